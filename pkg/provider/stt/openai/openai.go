// Package openai provides an STT provider backed by the OpenAI Realtime
// transcription API over WebSocket. It implements the stt.Provider interface.
//
// Unlike Deepgram, the Realtime API does not stream incremental finals: each
// utterance yields transcription deltas (surfaced as partials) followed by a
// single completed transcript, which is emitted as a speech-final result.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	realtimeEndpoint = "wss://api.openai.com/v1/realtime?intent=transcription"
	defaultModel     = "gpt-4o-transcribe"
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "gpt-4o-transcribe",
// "gpt-4o-mini-transcribe", "whisper-1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the Realtime WebSocket endpoint. Useful for proxies
// and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the OpenAI Realtime API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a new OpenAI Realtime transcription Provider. apiKey must be
// non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: realtimeEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// StartStream opens a Realtime transcription session and configures it for
// the given audio format. ctx bounds the dial and session setup only; the
// returned session lives until Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial realtime: %w", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, sessionUpdateMessage(p.model, cfg)); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: configure session: %w", err)
	}

	// Callers cancel the connect context as soon as the handle is returned,
	// so the session loops run on their own lifetime context.
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(runCtx)
	go sess.writeLoop(runCtx)

	return sess, nil
}

// sessionUpdateMessage builds the transcription_session.update event that
// selects the audio format, model and server-side endpointing.
func sessionUpdateMessage(model string, cfg stt.StreamConfig) []byte {
	format := "pcm16"
	if cfg.Encoding == stt.EncodingMuLaw {
		format = "g711_ulaw"
	}
	silence := cfg.Endpointing
	if silence <= 0 {
		silence = 800 * time.Millisecond
	}

	transcription := map[string]any{"model": model}
	if cfg.Language != "" {
		transcription["language"] = cfg.Language
	}

	msg := map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        format,
			"input_audio_transcription": transcription,
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"silence_duration_ms": int(silence.Milliseconds()),
			},
		},
	}
	out, _ := json.Marshal(msg)
	return out
}

// ---- session ----

// realtimeEvent covers the subset of Realtime server events the session
// reacts to.
type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

// session is a live Realtime transcription session. It implements
// stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues an audio chunk for delivery to the Realtime API.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("openai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("openai: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of completed utterance transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop wraps queued audio chunks into input_audio_buffer.append events.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageText, appendMessage(chunk)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func appendMessage(chunk []byte) []byte {
	msg := map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	}
	out, _ := json.Marshal(msg)
	return out
}

// readLoop receives Realtime server events and dispatches transcripts.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		t, ok := parseRealtimeEvent(msg)
		if !ok {
			continue
		}

		if t.IsFinal {
			select {
			case s.finals <- t:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- t:
			case <-s.done:
			}
		}
	}
}

// parseRealtimeEvent maps a Realtime server event onto a Transcript. Returns
// (zero, false) for events that carry no transcript content.
func parseRealtimeEvent(data []byte) (stt.Transcript, bool) {
	var ev realtimeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return stt.Transcript{}, false
	}

	switch ev.Type {
	case "conversation.item.input_audio_transcription.delta":
		if ev.Delta == "" {
			return stt.Transcript{}, false
		}
		return stt.Transcript{Text: ev.Delta}, true
	case "conversation.item.input_audio_transcription.completed":
		// The Realtime API endpoints per utterance, so a completed transcript
		// is always a complete answer.
		return stt.Transcript{
			Text:        ev.Transcript,
			IsFinal:     true,
			SpeechFinal: true,
		}, true
	default:
		return stt.Transcript{}, false
	}
}
