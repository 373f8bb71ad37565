// Package mock provides a scriptable in-memory stt.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
)

// Provider implements stt.Provider without any network access. Tests script
// its sessions by pushing transcripts and inspecting received audio.
type Provider struct {
	mu sync.Mutex

	// FailStarts makes the next N StartStream calls fail. Used to exercise
	// reconnect paths.
	FailStarts int

	// StartErr, when set, is returned by every failing StartStream call.
	StartErr error

	sessions []*Session
	starts   int
}

// NewProvider returns a mock Provider with no scripted failures.
func NewProvider() *Provider {
	return &Provider{}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock" }

// StartStream implements stt.Provider. Each successful call creates and
// records a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.FailStarts > 0 {
		p.FailStarts--
		if p.StartErr != nil {
			return nil, p.StartErr
		}
		return nil, errors.New("mock: scripted start failure")
	}

	s := &Session{
		Config:   cfg,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Starts reports how many times StartStream was called, including failures.
func (p *Provider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Sessions returns all sessions created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a scriptable stt.SessionHandle.
type Session struct {
	// Config is the StreamConfig the session was opened with.
	Config stt.StreamConfig

	mu     sync.Mutex
	audio  [][]byte
	closed bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}
}

// SendAudio implements stt.SessionHandle, recording the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Close implements stt.SessionHandle. It closes both transcript channels,
// mirroring a real session's end-of-stream behaviour.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.partials)
	close(s.finals)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Audio returns all chunks received via SendAudio.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// PushPartial scripts an interim transcript.
func (s *Session) PushPartial(text string) {
	s.push(s.partials, stt.Transcript{Text: text})
}

// PushFinal scripts a final transcript. speechFinal marks the utterance as
// endpointed.
func (s *Session) PushFinal(text string, speechFinal bool) {
	s.push(s.finals, stt.Transcript{Text: text, IsFinal: true, SpeechFinal: speechFinal})
}

// PushUtteranceEnd scripts a standalone utterance-end marker.
func (s *Session) PushUtteranceEnd() {
	s.push(s.finals, stt.Transcript{IsFinal: true, UtteranceEnd: true})
}

// Disconnect simulates a remote disconnect: both channels close without the
// caller having asked for it.
func (s *Session) Disconnect() {
	s.Close()
}

func (s *Session) push(ch chan stt.Transcript, t stt.Transcript) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case ch <- t:
	case <-s.done:
	}
}
