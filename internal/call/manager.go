package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/internal/media"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/pkg/provider/stt"
	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/MrWong99/trunkline/pkg/provider/tts"
)

// ManagerConfig configures the call registry and the numbers and URLs used
// when placing calls.
type ManagerConfig struct {
	// From is the provisioned caller number in E.164 form.
	From string

	// To is the callee number in E.164 form.
	To string

	// PublicURL is the externally reachable base URL of this service, e.g.
	// "https://calls.example.com". Instruction, status and media-stream URLs
	// derive from it.
	PublicURL string

	// Language is the transcription language hint.
	Language string

	// Timeouts are the per-call deadlines.
	Timeouts Timeouts
}

// Manager is the process-wide call registry. It owns the shared provider
// instances and creates, looks up and removes call sessions. All methods are
// safe for concurrent use.
type Manager struct {
	cfg     ManagerConfig
	tel     telephony.Provider
	tts     tts.Provider
	stt     stt.Provider
	metrics *observe.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	byID  map[string]*Session
	byRef map[string]*Session
}

// NewManager creates an empty registry over the shared providers. metrics
// may be nil when observability is not wired (tests).
func NewManager(cfg ManagerConfig, tel telephony.Provider, ttsProv tts.Provider,
	sttProv stt.Provider, metrics *observe.Metrics, log *slog.Logger) *Manager {

	cfg.Timeouts = cfg.Timeouts.withDefaults()
	return &Manager{
		cfg:     cfg,
		tel:     tel,
		tts:     ttsProv,
		stt:     sttProv,
		metrics: metrics,
		log:     log,
		byID:    make(map[string]*Session),
		byRef:   make(map[string]*Session),
	}
}

// InstructionURL is where the carrier fetches the call instruction document.
func (m *Manager) InstructionURL() string {
	return strings.TrimSuffix(m.cfg.PublicURL, "/") + "/call-instruction"
}

// StatusCallbackURL is where the carrier posts call lifecycle events.
func (m *Manager) StatusCallbackURL() string {
	return strings.TrimSuffix(m.cfg.PublicURL, "/") + "/status"
}

// MediaStreamURL is the WebSocket URL carriers open the media stream to.
func (m *Manager) MediaStreamURL() string {
	u, err := url.Parse(m.cfg.PublicURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(m.cfg.PublicURL, "/") + "/media-stream"
	}
	scheme := "wss"
	if u.Scheme == "http" {
		scheme = "ws"
	}
	return scheme + "://" + u.Host + "/media-stream"
}

// UpdateTimeouts replaces the per-call deadlines used for calls placed from
// now on. Calls in flight keep the deadlines they started with.
func (m *Manager) UpdateTimeouts(t Timeouts) {
	m.mu.Lock()
	m.cfg.Timeouts = t.withDefaults()
	m.mu.Unlock()
}

// Initiate places an outbound call, waits for it to become ready, speaks the
// opening message and returns the callee's first reply. The first response is
// inseparable from initiation.
func (m *Manager) Initiate(ctx context.Context, message string) (callID, response string, err error) {
	m.mu.Lock()
	timeouts := m.cfg.Timeouts
	m.mu.Unlock()
	sess := newSession(m.tel, m.tts, m.stt, timeouts, m.cfg.Language, m.metrics, m.log)

	ref, err := m.tel.PlaceCall(ctx, telephony.CallRequest{
		From:              m.cfg.From,
		To:                m.cfg.To,
		InstructionURL:    m.InstructionURL(),
		StatusCallbackURL: m.StatusCallbackURL(),
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordProviderError(ctx, m.tel.Name(), "place_call")
		}
		sess.endNow(ErrCarrierRejected)
		return "", "", fmt.Errorf("%w: %v", ErrCarrierRejected, err)
	}
	sess.setCallRef(ref)
	sess.onEnded = m.remove

	m.mu.Lock()
	m.byID[sess.ID()] = sess
	m.byRef[ref] = sess
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveCalls.Add(ctx, 1)
	}
	m.log.Info("call placed", "callId", sess.ID(), "callRef", ref)

	if err := sess.WaitReady(ctx); err != nil {
		sess.endNow(nil)
		return "", "", fmt.Errorf("call %s never became ready: %w", sess.ID(), err)
	}

	response, err = sess.Speak(ctx, message, true)
	m.recordTurn(ctx, "initiate", err)
	if err != nil {
		return sess.ID(), "", err
	}
	return sess.ID(), response, nil
}

// Continue speaks message on an existing ready call and returns the reply.
func (m *Manager) Continue(ctx context.Context, callID, message string) (string, error) {
	sess, err := m.lookup(callID)
	if err != nil {
		return "", err
	}
	response, err := sess.Speak(ctx, message, true)
	m.recordTurn(ctx, "continue", err)
	return response, err
}

// SpeakOnly speaks message on an existing ready call without listening for a
// reply. It returns once the carrier confirms playback.
func (m *Manager) SpeakOnly(ctx context.Context, callID, message string) error {
	sess, err := m.lookup(callID)
	if err != nil {
		return err
	}
	_, err = sess.Speak(ctx, message, false)
	m.recordTurn(ctx, "speak", err)
	return err
}

// End terminates a call, speaking a non-empty message best-effort first, and
// returns the call's total duration.
func (m *Manager) End(ctx context.Context, callID, message string) (time.Duration, error) {
	sess, err := m.lookup(callID)
	if err != nil {
		return 0, err
	}
	duration, err := sess.End(ctx, message)
	m.recordTurn(ctx, "end", err)
	return duration, err
}

// RouteStatus dispatches a carrier status event to the call owning callRef.
// Events for unknown references are logged and dropped.
func (m *Manager) RouteStatus(callRef, status string) {
	m.mu.Lock()
	sess := m.byRef[callRef]
	m.mu.Unlock()
	if sess == nil {
		m.log.Warn("status event for unknown call", "callRef", callRef, "status", status)
		return
	}
	sess.HandleStatus(status)
}

// AttachMedia joins a media stream to the call named by the start frame's
// call reference. A start frame without a known reference is rejected; there
// is deliberately no fallback to "the most recent call", which misbinds
// streams under concurrency.
func (m *Manager) AttachMedia(start media.Start, ms *media.Session) (*Session, error) {
	if start.CallSid == "" {
		return nil, fmt.Errorf("media stream start frame carries no call reference")
	}
	m.mu.Lock()
	sess := m.byRef[start.CallSid]
	m.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("media stream for unknown call %q: %w", start.CallSid, ErrCallNotFound)
	}
	if err := sess.AttachMedia(ms, start); err != nil {
		return nil, err
	}
	return sess, nil
}

// Active reports how many calls are registered.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// EndAll terminates every registered call. Used during graceful shutdown.
func (m *Manager) EndAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.endNow(nil)
			s.awaitEnded(ctx)
		}(s)
	}
	wg.Wait()
}

func (m *Manager) lookup(callID string) (*Session, error) {
	m.mu.Lock()
	sess := m.byID[callID]
	m.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("call %q: %w", callID, ErrCallNotFound)
	}
	return sess, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.byID, s.ID())
	if ref := s.CallRef(); ref != "" {
		delete(m.byRef, ref)
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveCalls.Add(context.Background(), -1)
	}
}

func (m *Manager) recordTurn(ctx context.Context, kind string, err error) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrTranscriptTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	m.metrics.RecordTurn(ctx, kind, status)
}
