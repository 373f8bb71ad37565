// Package call implements the per-call orchestration core: the call state
// machine, the turn protocol (speak-then-listen with endpointing), the
// reconnecting transcription wrapper, and the process-wide call registry.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/internal/media"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/pkg/provider/stt"
	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/MrWong99/trunkline/pkg/provider/tts"
	"github.com/google/uuid"
)

// Timeouts configures the per-call deadlines. Zero fields take the defaults
// below.
type Timeouts struct {
	// Transcript bounds each listen for the caller's reply.
	Transcript time.Duration

	// STTConnect bounds opening the transcription stream after media binds.
	STTConnect time.Duration

	// MediaConnect bounds the gap between the answer webhook and the media
	// stream's start frame.
	MediaConnect time.Duration

	// MaxCall is the hard ceiling on total call duration.
	MaxCall time.Duration

	// Silence is the endpointing span forwarded to the STT stream.
	Silence time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Transcript <= 0 {
		t.Transcript = 3 * time.Minute
	}
	if t.STTConnect <= 0 {
		t.STTConnect = 10 * time.Second
	}
	if t.MediaConnect <= 0 {
		t.MediaConnect = 30 * time.Second
	}
	if t.MaxCall <= 0 {
		t.MaxCall = 6 * time.Minute
	}
	if t.Silence <= 0 {
		t.Silence = 800 * time.Millisecond
	}
	return t
}

// Session is one live call: it owns the state machine, the turn lock, the
// media stream binding and the transcription stream. All methods are safe for
// concurrent use; agent operations serialize on the turn lock and fail fast
// with ErrCallBusy instead of queueing.
type Session struct {
	id      string
	callRef string
	log     *slog.Logger

	tel      telephony.Provider
	tts      tts.Provider
	rec      *recognizer
	timeouts Timeouts
	metrics  *observe.Metrics

	// onEnded is invoked once after the session reaches ENDED; the registry
	// uses it to drop the call.
	onEnded func(*Session)

	// turn serializes agent operations. TryLock only: a second concurrent
	// operation is an agent error, not something to queue.
	turn sync.Mutex

	mu        sync.Mutex
	state     State
	media     *media.Session
	placedAt  time.Time
	endedAt   time.Time
	endErr    error
	lastState State

	readyCh chan struct{}
	endedCh chan struct{}

	// ctx is the call lifetime; cancel aborts in-flight playout and waiters.
	ctx    context.Context
	cancel context.CancelFunc

	endOnce  sync.Once
	watchdog *time.Timer
	mediaTmr *time.Timer
}

// newSession builds an unplaced session. The manager places the carrier call
// and records the returned reference before registering it.
func newSession(tel telephony.Provider, ttsProv tts.Provider, sttProv stt.Provider,
	timeouts Timeouts, language string, metrics *observe.Metrics, log *slog.Logger) *Session {

	timeouts = timeouts.withDefaults()
	id := uuid.NewString()
	log = log.With("callId", id)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		log:      log,
		tel:      tel,
		tts:      ttsProv,
		timeouts: timeouts,
		metrics:  metrics,
		state:    StateInitiating,
		placedAt: time.Now(),
		readyCh:  make(chan struct{}),
		endedCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.rec = newRecognizer(sttProv, stt.StreamConfig{
		SampleRate:  8000,
		Channels:    1,
		Encoding:    stt.EncodingMuLaw,
		Endpointing: timeouts.Silence,
		Language:    language,
	}, log)
	if metrics != nil {
		s.rec.onReconnect = func() {
			metrics.STTReconnects.Add(context.Background(), 1)
		}
	}

	s.watchdog = time.AfterFunc(timeouts.MaxCall, func() {
		s.log.Warn("call exceeded hard duration ceiling, forcing end")
		s.endNow(ErrCallEnded)
	})
	return s
}

// ID returns the call's registry identifier.
func (s *Session) ID() string { return s.id }

// CallRef returns the carrier call reference.
func (s *Session) CallRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callRef
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setCallRef records the carrier reference after placeCall returns.
func (s *Session) setCallRef(ref string) {
	s.mu.Lock()
	s.callRef = ref
	s.mu.Unlock()
}

// transition applies one edge of the lifecycle graph. Illegal edges are
// refused with an error; callers holding state assumptions treat that as a
// precondition failure.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) error {
	if s.state == StateEnding || s.state == StateEnded {
		return ErrCallEnded
	}
	if !ValidTransition(s.state, to) {
		return fmt.Errorf("call %s: illegal transition %s -> %s", s.id, s.state, to)
	}
	s.log.Debug("call state change", "from", s.state.String(), "to", to.String())
	s.state = to
	return nil
}

// HandleStatus applies a carrier call-status webhook event.
func (s *Session) HandleStatus(status string) {
	switch status {
	case "initiated", "queued":
		// Carrier acknowledgement; nothing to apply.
	case "ringing":
		if err := s.transition(StateRinging); err != nil {
			s.log.Debug("ignoring ringing event", "error", err)
		}
	case "answered", "in-progress":
		s.handleAnswered()
	case "completed", "busy", "failed", "no-answer", "canceled":
		s.log.Info("carrier ended the call", "status", status)
		go s.endNow(ErrCallEnded)
	default:
		s.log.Debug("ignoring unknown call status", "status", status)
	}
}

func (s *Session) handleAnswered() {
	s.mu.Lock()
	// Carriers do not always emit a distinct ringing event; pass through it
	// to keep the lifecycle graph intact.
	if s.state == StateInitiating {
		if err := s.transitionLocked(StateRinging); err != nil {
			s.mu.Unlock()
			return
		}
	}
	if err := s.transitionLocked(StateAnswered); err != nil {
		s.mu.Unlock()
		s.log.Debug("ignoring answered event", "error", err)
		return
	}
	s.mu.Unlock()

	// The media stream must bind within the window or the call is dead air.
	tmr := time.AfterFunc(s.timeouts.MediaConnect, func() {
		if s.State() == StateAnswered {
			s.log.Error("media stream never connected after answer")
			s.endNow(ErrMediaTimeout)
		}
	})
	s.mu.Lock()
	s.mediaTmr = tmr
	s.mu.Unlock()
}

// AttachMedia binds the carrier media stream to this call, connects
// transcription, and moves the call to READY. Called by the registry when a
// start frame names this call's carrier reference.
func (s *Session) AttachMedia(ms *media.Session, start media.Start) error {
	s.mu.Lock()
	// The start frame can outrun the answer webhook; a media stream implies
	// the callee picked up, so fast-forward through the graph.
	for _, st := range []State{StateRinging, StateAnswered} {
		if s.state == st || !ValidTransition(s.state, st) {
			continue
		}
		if err := s.transitionLocked(st); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if s.state != StateAnswered {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("call %s: media stream in state %s", s.id, st)
	}
	s.media = ms
	tmr := s.mediaTmr
	s.mu.Unlock()

	if tmr != nil {
		tmr.Stop()
	}

	ms.SetAudioSink(s.rec.sendAudio)

	connectCtx, cancel := context.WithTimeout(s.ctx, s.timeouts.STTConnect)
	defer cancel()
	if err := s.rec.connect(connectCtx); err != nil {
		s.log.Error("transcription connect failed", "error", err)
		go s.endNow(fmt.Errorf("%w: %v", ErrSTTUnavailable, err))
		return fmt.Errorf("%w: %v", ErrSTTUnavailable, err)
	}

	if err := s.transition(StateReady); err != nil {
		return err
	}
	close(s.readyCh)
	s.log.Info("call ready", "streamSid", start.StreamSid)
	return nil
}

// MediaStopped handles an unexpected media stream close.
func (s *Session) MediaStopped() {
	st := s.State()
	if st == StateEnding || st == StateEnded {
		return
	}
	s.log.Info("media stream closed, ending call")
	go s.endNow(ErrCallEnded)
}

// WaitReady blocks until the call reaches READY, ends first, or ctx expires.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-s.endedCh:
		return s.endReason()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) endReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endErr != nil {
		return s.endErr
	}
	return ErrCallEnded
}

// Speak runs one agent turn: synthesize text, play it to the caller, and —
// when expectReply is set — listen for the next complete utterance and return
// it. Requires the call to be READY; a concurrent turn fails with
// ErrCallBusy.
func (s *Session) Speak(ctx context.Context, text string, expectReply bool) (string, error) {
	if !s.turn.TryLock() {
		return "", ErrCallBusy
	}
	defer s.turn.Unlock()

	if err := s.transition(StateSpeaking); err != nil {
		return "", err
	}

	// The turn is bounded by both the agent's request and the call lifetime.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.playText(turnCtx, text); err != nil {
		// A failed synthesis is recoverable: the call stays ready and the
		// agent may retry the turn.
		if terr := s.transition(StateReady); terr != nil && !errors.Is(terr, ErrCallEnded) {
			s.log.Warn("state reset after playout failure failed", "error", terr)
		}
		return "", err
	}

	if !expectReply {
		if err := s.transition(StateReady); err != nil && !errors.Is(err, ErrCallEnded) {
			s.log.Warn("state reset after speak failed", "error", err)
		}
		return "", nil
	}

	if err := s.transition(StateListening); err != nil {
		return "", err
	}

	listenStart := time.Now()
	reply, err := s.rec.waitForTranscript(turnCtx, s.timeouts.Transcript)
	if s.metrics != nil {
		s.metrics.TranscriptWait.Record(context.Background(), time.Since(listenStart).Seconds())
	}
	if terr := s.transition(StateReady); terr != nil && !errors.Is(terr, ErrCallEnded) {
		s.log.Warn("state reset after listen failed", "error", terr)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// playText synthesizes text and streams it onto the media session. A failed
// synthesis leaves the call READY so the agent can retry the turn.
func (s *Session) playText(ctx context.Context, text string) error {
	s.mu.Lock()
	ms := s.media
	s.mu.Unlock()
	if ms == nil {
		return ErrCallEnded
	}

	synthStart := time.Now()
	result, err := s.tts.Synthesize(ctx, text)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(context.Background(), time.Since(synthStart).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordProviderError(context.Background(), s.tts.Name(), "tts")
		}
		return fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	if err := ms.SendStream(ctx, result.PCM, result.SampleRate); err != nil {
		if s.ctx.Err() != nil || errors.Is(err, media.ErrSessionClosed) {
			return ErrCancelled
		}
		return fmt.Errorf("play synthesized audio: %w", err)
	}
	if s.metrics != nil && result.SampleRate > 0 {
		ulawLen := len(result.PCM) / 2 * 8000 / result.SampleRate
		s.metrics.MediaChunks.Add(context.Background(), int64((ulawLen+3999)/4000))
	}
	return nil
}

// End terminates the call: a non-empty finalMessage is spoken best-effort
// (skipped when the caller already hung up), then transcription, media and
// the carrier leg are released in order. It returns the total call duration.
func (s *Session) End(ctx context.Context, finalMessage string) (time.Duration, error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateEnded {
		return s.Duration(), ErrCallEnded
	}

	// Cut through an in-flight turn: cancel the pending waiter and abort any
	// outbound playout so the turn lock frees promptly. The final message
	// below runs on the caller's context, which is unaffected.
	s.rec.cancelWaiter()
	s.cancel()
	s.turn.Lock()
	defer s.turn.Unlock()

	if finalMessage != "" && s.State() == StateReady {
		if err := s.transition(StateSpeaking); err == nil {
			if err := s.playText(ctx, finalMessage); err != nil {
				s.log.Warn("final message not delivered", "error", err)
			}
		}
	}

	s.endNow(nil)
	s.awaitEnded(ctx)
	return s.Duration(), nil
}

// endNow drives teardown exactly once: ENDING, release STT, media and the
// carrier leg, then ENDED. reason (when non-nil) becomes the call's end error
// delivered to ready-waiters.
func (s *Session) endNow(reason error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.lastState = s.state
		if s.state != StateEnding && s.state != StateEnded {
			s.log.Debug("call state change", "from", s.state.String(), "to", StateEnding.String())
			s.state = StateEnding
		}
		if reason != nil {
			s.endErr = reason
		}
		ms := s.media
		ref := s.callRef
		s.mu.Unlock()

		// Abort in-flight playout and pending waiters.
		s.cancel()
		s.watchdog.Stop()
		if s.mediaTmr != nil {
			s.mediaTmr.Stop()
		}
		s.rec.close()
		if ms != nil {
			ms.Close()
		}
		if ref != "" {
			hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.tel.Hangup(hangupCtx, ref); err != nil {
				s.log.Warn("carrier hangup failed", "error", err)
			}
			cancel()
		}

		s.mu.Lock()
		s.log.Debug("call state change", "from", StateEnding.String(), "to", StateEnded.String())
		s.state = StateEnded
		s.endedAt = time.Now()
		s.mu.Unlock()

		duration := s.Duration()
		s.log.Info("call ended", "duration", duration, "lastState", s.lastState.String())
		if s.metrics != nil {
			s.metrics.CallDuration.Record(context.Background(), duration.Seconds())
		}
		close(s.endedCh)
		if s.onEnded != nil {
			s.onEnded(s)
		}
	})
}

// awaitEnded blocks until teardown completes or ctx expires.
func (s *Session) awaitEnded(ctx context.Context) {
	select {
	case <-s.endedCh:
	case <-ctx.Done():
	}
}

// Duration is the wall-clock time from call placement until the call ended,
// or until now for a live call.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.placedAt)
	}
	return time.Since(s.placedAt)
}
