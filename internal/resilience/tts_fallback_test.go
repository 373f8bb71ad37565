package resilience

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/trunkline/pkg/provider/tts"
	ttsmock "github.com/MrWong99/trunkline/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := ttsmock.NewProvider()
	primary.Result = &tts.Result{PCM: []byte("primary-audio"), SampleRate: 24000}
	secondary := ttsmock.NewProvider()

	fb := NewTTSFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	res, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.PCM) != "primary-audio" {
		t.Fatalf("PCM = %q, want primary-audio", res.PCM)
	}
	if res.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d, want 24000", res.SampleRate)
	}
	if len(secondary.Requests()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Requests()))
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	primary := ttsmock.NewProvider()
	primary.Err = errors.New("primary down")
	secondary := ttsmock.NewProvider()
	secondary.Result = &tts.Result{PCM: []byte("fallback-audio"), SampleRate: 8000}

	fb := NewTTSFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	res, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.PCM) != "fallback-audio" {
		t.Fatalf("PCM = %q, want fallback-audio", res.PCM)
	}
	if len(primary.Requests()) != 1 || len(secondary.Requests()) != 1 {
		t.Fatalf("calls: primary %d secondary %d, want 1 and 1",
			len(primary.Requests()), len(secondary.Requests()))
	}
}

func TestTTSFallback_Synthesize_AllFail(t *testing.T) {
	primary := ttsmock.NewProvider()
	primary.Err = errors.New("primary down")
	secondary := ttsmock.NewProvider()
	secondary.Err = errors.New("secondary down")

	fb := NewTTSFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	if _, err := fb.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_SynthesizeStream_Failover(t *testing.T) {
	primary := ttsmock.NewProvider()
	primary.Err = errors.New("primary down")
	secondary := ttsmock.NewProvider()
	secondary.Result = &tts.Result{PCM: []byte("fallback-audio"), SampleRate: 8000}

	fb := NewTTSFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	stream, err := fb.SynthesizeStream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var got []byte
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, chunk...)
	}
	if string(got) != "fallback-audio" {
		t.Fatalf("stream yielded %q, want fallback-audio", got)
	}
}

func TestTTSFallback_SampleRateIsPrimary(t *testing.T) {
	primary := ttsmock.NewProvider()
	primary.Rate = 24000
	secondary := ttsmock.NewProvider()
	secondary.Rate = 8000

	fb := NewTTSFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	if got := fb.SampleRate(); got != 24000 {
		t.Fatalf("SampleRate = %d, want 24000", got)
	}
}
