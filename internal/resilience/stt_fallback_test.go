package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
	sttmock "github.com/MrWong99/trunkline/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream_PrimarySuccess(t *testing.T) {
	primary := sttmock.NewProvider()
	secondary := sttmock.NewProvider()

	fb := NewSTTFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
		Encoding:   stt.EncodingMuLaw,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if primary.Starts() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.Starts())
	}
	if secondary.Starts() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.Starts())
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_Failover(t *testing.T) {
	primary := sttmock.NewProvider()
	primary.FailStarts = 1
	primary.StartErr = errors.New("primary down")
	secondary := sttmock.NewProvider()

	fb := NewSTTFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.Starts() != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.Starts())
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_AllFail(t *testing.T) {
	primary := sttmock.NewProvider()
	primary.FailStarts = 1
	primary.StartErr = errors.New("primary down")
	secondary := sttmock.NewProvider()
	secondary.FailStarts = 1
	secondary.StartErr = errors.New("secondary down")

	fb := NewSTTFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Name(t *testing.T) {
	fb := NewSTTFallback(sttmock.NewProvider(), FallbackConfig{})
	fb.AddFallback(sttmock.NewProvider())

	if got := fb.Name(); got != "mock+mock" {
		t.Fatalf("Name() = %q, want mock+mock", got)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := sttmock.NewProvider()
	primary.FailStarts = 10
	primary.StartErr = errors.New("primary down")
	secondary := sttmock.NewProvider()

	fb := NewSTTFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback(secondary)

	// First call trips the primary's breaker; the second must not touch it.
	for i := 0; i < 2; i++ {
		handle, err := fb.StartStream(context.Background(), stt.StreamConfig{})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		_ = handle.Close()
	}
	if primary.Starts() != 1 {
		t.Fatalf("primary called %d times, want 1 (breaker open)", primary.Starts())
	}
	if secondary.Starts() != 2 {
		t.Fatalf("secondary called %d times, want 2", secondary.Starts())
	}
}
