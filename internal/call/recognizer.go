package call

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
)

const (
	reconnectBase     = time.Second
	reconnectAttempts = 5
)

// recognizer owns a call's transcription stream: it keeps one upstream STT
// session alive across disconnects, accumulates final segments into complete
// utterances, and delivers each completed utterance to the single armed
// waiter.
//
// Utterances accumulate across multiple final segments until the endpoint
// fires (a speech-final result or an utterance-end marker); only then is the
// concatenated text delivered. With no waiter armed — the call is speaking —
// completed utterances are dropped so the agent's own voice cannot be
// mistaken for a reply.
type recognizer struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	log      *slog.Logger

	// backoffBase is reconnectBase in production; tests shrink it.
	backoffBase time.Duration

	// onReconnect is invoked per reconnect attempt, for metrics.
	onReconnect func()

	mu         sync.Mutex
	sess       stt.SessionHandle
	connected  bool
	closed     bool
	segments   []string
	waiter     chan waitResult
	lastErr    error
	reconnects int
}

type waitResult struct {
	text string
	err  error
}

func newRecognizer(provider stt.Provider, cfg stt.StreamConfig, log *slog.Logger) *recognizer {
	return &recognizer{
		provider:    provider,
		cfg:         cfg,
		log:         log,
		backoffBase: reconnectBase,
	}
}

// connect opens the upstream session and starts the consume loop. The caller
// bounds connection time through ctx.
func (r *recognizer) connect(ctx context.Context) error {
	sess, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sess = sess
	r.connected = true
	r.mu.Unlock()

	go r.consume(sess)
	return nil
}

// sendAudio forwards a µ-law chunk to the upstream session. During a
// reconnect gap the chunk is dropped silently.
func (r *recognizer) sendAudio(chunk []byte) {
	r.mu.Lock()
	sess := r.sess
	ok := r.connected && !r.closed
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := sess.SendAudio(chunk); err != nil {
		r.log.Debug("dropping audio chunk", "error", err)
	}
}

// waitForTranscript arms the waiter and blocks until the next completed
// utterance, the timeout, a terminal upstream failure, or ctx cancellation.
// At most one waiter may be outstanding.
func (r *recognizer) waitForTranscript(ctx context.Context, timeout time.Duration) (string, error) {
	r.mu.Lock()
	if r.closed {
		err := r.lastErr
		r.mu.Unlock()
		if err != nil {
			return "", err
		}
		return "", ErrCancelled
	}
	if r.waiter != nil {
		r.mu.Unlock()
		return "", ErrCallBusy
	}
	ch := make(chan waitResult, 1)
	r.waiter = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.waiter == ch {
			r.waiter = nil
		}
		r.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.text, res.err
	case <-timer.C:
		return "", ErrTranscriptTimeout
	case <-ctx.Done():
		return "", ErrCancelled
	}
}

// isConnected reports whether the upstream session is live.
func (r *recognizer) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && !r.closed
}

// reconnectCount reports how many reconnect attempts have been made.
func (r *recognizer) reconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects
}

// cancelWaiter resolves a pending waiter with ErrCancelled without closing
// the stream. Used when the call starts ending while a listen is in flight.
func (r *recognizer) cancelWaiter() {
	r.mu.Lock()
	waiter := r.waiter
	r.waiter = nil
	r.mu.Unlock()
	if waiter != nil {
		waiter <- waitResult{err: ErrCancelled}
	}
}

// close shuts the recognizer down and prevents reconnection. A pending waiter
// is resolved with ErrCancelled.
func (r *recognizer) close() {
	r.fail(ErrCancelled)
}

// fail marks the recognizer terminally failed with err, resolving any pending
// waiter with it.
func (r *recognizer) fail(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.connected = false
	r.lastErr = err
	sess := r.sess
	waiter := r.waiter
	r.waiter = nil
	r.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if waiter != nil {
		waiter <- waitResult{err: err}
	}
}

// consume drains one upstream session until its channels close, then drives
// reconnection. It runs in its own goroutine for the life of the recognizer.
func (r *recognizer) consume(sess stt.SessionHandle) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for t := range sess.Partials() {
			if t.Text != "" {
				r.log.Debug("interim transcript", "text", t.Text)
			}
		}
	}()

	for t := range sess.Finals() {
		r.handleFinal(t)
	}
	wg.Wait()

	r.mu.Lock()
	closed := r.closed
	r.connected = false
	r.mu.Unlock()
	if closed {
		return
	}

	r.log.Warn("transcription stream lost, reconnecting")
	r.reconnect()
}

// reconnect retries the upstream connection with exponential backoff. On
// exhaustion the recognizer fails terminally with ErrSTTUnavailable.
func (r *recognizer) reconnect() {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		time.Sleep(r.backoffBase << (attempt - 1))

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.reconnects++
		r.mu.Unlock()
		if r.onReconnect != nil {
			r.onReconnect()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sess, err := r.provider.StartStream(ctx, r.cfg)
		cancel()
		if err != nil {
			r.log.Warn("transcription reconnect failed",
				"attempt", attempt, "error", err)
			continue
		}

		r.mu.Lock()
		r.sess = sess
		r.connected = true
		r.mu.Unlock()
		r.log.Info("transcription stream reconnected", "attempt", attempt)
		go r.consume(sess)
		return
	}

	r.fail(ErrSTTUnavailable)
}

// handleFinal folds one final result into the utterance accumulator and
// flushes on endpoint.
func (r *recognizer) handleFinal(t stt.Transcript) {
	if !t.IsFinal {
		return
	}

	r.mu.Lock()
	if text := strings.TrimSpace(t.Text); text != "" {
		r.segments = append(r.segments, text)
	}

	endpoint := t.SpeechFinal || t.UtteranceEnd
	if !endpoint || len(r.segments) == 0 {
		r.mu.Unlock()
		return
	}

	utterance := strings.Join(r.segments, " ")
	r.segments = nil
	waiter := r.waiter
	r.waiter = nil
	r.mu.Unlock()

	if waiter != nil {
		waiter <- waitResult{text: utterance}
	} else {
		r.log.Debug("dropping utterance with no armed waiter", "text", utterance)
	}
}
