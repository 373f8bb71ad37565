package call

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
	sttmock "github.com/MrWong99/trunkline/pkg/provider/stt/mock"
)

func newTestRecognizer(t *testing.T, provider *sttmock.Provider) *recognizer {
	t.Helper()
	r := newRecognizer(provider, stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
		Encoding:   stt.EncodingMuLaw,
	}, slog.Default())
	r.backoffBase = 5 * time.Millisecond
	t.Cleanup(r.close)
	return r
}

func connectRecognizer(t *testing.T, r *recognizer) *sttmock.Session {
	t.Helper()
	if err := r.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sess := r.provider.(*sttmock.Provider).LastSession()
	if sess == nil {
		t.Fatal("no session created")
	}
	return sess
}

func TestRecognizer_AccumulatesUntilEndpoint(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)

	done := make(chan struct{})
	var text string
	var err error
	go func() {
		defer close(done)
		text, err = r.waitForTranscript(context.Background(), time.Second)
	}()

	// Two plain finals must not resolve the waiter; the utterance-end marker
	// flushes the concatenation.
	sess.PushFinal("that is", false)
	sess.PushFinal("all", false)
	select {
	case <-done:
		t.Fatal("waiter resolved before endpoint")
	case <-time.After(50 * time.Millisecond):
	}
	sess.PushUtteranceEnd()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
	if err != nil {
		t.Fatalf("waitForTranscript: %v", err)
	}
	if text != "that is all" {
		t.Errorf("utterance: got %q, want %q", text, "that is all")
	}
}

func TestRecognizer_SpeechFinalResolvesImmediately(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)

	done := make(chan string, 1)
	go func() {
		text, _ := r.waitForTranscript(context.Background(), time.Second)
		done <- text
	}()

	sess.PushPartial("oka")
	sess.PushFinal("okay", true)

	select {
	case text := <-done:
		if text != "okay" {
			t.Errorf("utterance: got %q, want okay", text)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestRecognizer_BareUtteranceEndWithoutTextIsIgnored(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)

	sess.PushUtteranceEnd()
	if _, err := r.waitForTranscript(context.Background(), 100*time.Millisecond); !errors.Is(err, ErrTranscriptTimeout) {
		t.Fatalf("got %v, want ErrTranscriptTimeout", err)
	}
}

func TestRecognizer_TranscriptTimeout(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	connectRecognizer(t, r)

	start := time.Now()
	_, err := r.waitForTranscript(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrTranscriptTimeout) {
		t.Fatalf("got %v, want ErrTranscriptTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v, want ~100ms", elapsed)
	}
}

func TestRecognizer_SingleWaiter(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	connectRecognizer(t, r)

	go r.waitForTranscript(context.Background(), time.Second)
	// Give the first waiter time to arm.
	time.Sleep(20 * time.Millisecond)

	if _, err := r.waitForTranscript(context.Background(), time.Second); !errors.Is(err, ErrCallBusy) {
		t.Fatalf("second waiter: got %v, want ErrCallBusy", err)
	}
}

func TestRecognizer_UtteranceWithNoWaiterIsDropped(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)

	// A complete utterance arriving while speaking (no waiter) must not be
	// delivered to the next waiter.
	sess.PushFinal("echo of own voice", true)
	time.Sleep(20 * time.Millisecond)

	if _, err := r.waitForTranscript(context.Background(), 100*time.Millisecond); !errors.Is(err, ErrTranscriptTimeout) {
		t.Fatalf("got %v, want ErrTranscriptTimeout", err)
	}
}

func TestRecognizer_ReconnectsAfterDisconnect(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)

	done := make(chan string, 1)
	go func() {
		text, err := r.waitForTranscript(context.Background(), 5*time.Second)
		if err != nil {
			t.Errorf("waitForTranscript: %v", err)
		}
		done <- text
	}()
	time.Sleep(20 * time.Millisecond)

	// Remote disconnect mid-listen: the recognizer reconnects and the
	// outstanding waiter keeps waiting.
	sess.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	var next *sttmock.Session
	for time.Now().Before(deadline) {
		if s := provider.LastSession(); s != nil && s != sess {
			next = s
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if next == nil {
		t.Fatal("no reconnect session created")
	}
	if got := r.reconnectCount(); got != 1 {
		t.Errorf("reconnect attempts: got %d, want 1", got)
	}

	next.PushFinal("hello", true)
	select {
	case text := <-done:
		if text != "hello" {
			t.Errorf("utterance: got %q, want hello", text)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved after reconnect")
	}
}

func TestRecognizer_ReconnectExhaustionFailsWaiter(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	sess := connectRecognizer(t, r)
	provider.FailStarts = reconnectAttempts

	errCh := make(chan error, 1)
	go func() {
		_, err := r.waitForTranscript(context.Background(), 10*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	sess.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSTTUnavailable) {
			t.Fatalf("got %v, want ErrSTTUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never resolved after reconnect exhaustion")
	}
	if r.isConnected() {
		t.Error("recognizer still reports connected after exhaustion")
	}
}

func TestRecognizer_SendAudioDropsWhenDisconnected(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)

	// Not connected yet: chunks drop silently.
	r.sendAudio([]byte{1, 2, 3})

	sess := connectRecognizer(t, r)
	r.sendAudio([]byte{4, 5, 6})
	if got := len(sess.Audio()); got != 1 {
		t.Errorf("session received %d chunks, want 1", got)
	}
}

func TestRecognizer_CloseCancelsWaiter(t *testing.T) {
	provider := sttmock.NewProvider()
	r := newTestRecognizer(t, provider)
	connectRecognizer(t, r)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.waitForTranscript(context.Background(), 10*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	r.close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("got %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved after close")
	}
}
