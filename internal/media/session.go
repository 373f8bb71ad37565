// Package media implements the carrier media-stream session: the
// bidirectional WebSocket over which the carrier delivers caller audio and
// accepts agent audio, framed as line-delimited JSON events.
//
// Inbound media is base64-decoded to raw µ-law and pushed into the bound
// audio sink. Outbound PCM is resampled to 8 kHz, µ-law encoded, split into
// 500 ms chunks and paced onto the socket so the carrier keeps a shallow
// jitter buffer.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/trunkline/pkg/audio"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// telephonyRate is the sample rate of the carrier leg.
	telephonyRate = 8000

	// chunkBytes is 500 ms of 8 kHz µ-law. Smaller chunks proved choppy
	// under variable network conditions.
	chunkBytes = 4000

	// paceLead is subtracted from each chunk's wall-clock duration when
	// pacing, keeping the carrier buffer shallow but never starved.
	paceLead = 50 * time.Millisecond

	// markGrace extends the mark-echo wait beyond the audio duration. Not
	// every carrier echoes marks, so speak returns anyway after it.
	markGrace = 2 * time.Second
)

// ErrSessionClosed is returned by outbound operations after the stream has
// stopped or the session was closed.
var ErrSessionClosed = errors.New("media: session is closed")

// Conn is the transport a Session runs on. Satisfied by *WSConn in
// production and by in-memory fakes in tests.
type Conn interface {
	// Read returns the next message from the peer.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one message to the peer.
	Write(ctx context.Context, data []byte) error

	// Close tears the transport down.
	Close() error
}

// WSConn adapts a coder/websocket connection to the Conn interface.
type WSConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an accepted WebSocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (w *WSConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *WSConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WSConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithStartHandler registers the callback invoked on the carrier's start
// event. Returning an error rejects the stream and ends the session.
func WithStartHandler(fn func(Start) error) Option {
	return func(s *Session) {
		s.onStart = fn
	}
}

// WithStopHandler registers the callback invoked when the carrier stops the
// stream or the transport fails.
func WithStopHandler(fn func()) Option {
	return func(s *Session) {
		s.onStop = fn
	}
}

// Session is one live media stream. Created per WebSocket upgrade; Run drives
// the inbound side until the stream ends.
type Session struct {
	conn Conn
	log  *slog.Logger

	onStart func(Start) error
	onStop  func()

	mu        sync.Mutex
	streamSid string
	started   bool
	closed    bool
	sink      func([]byte)
	marks     map[string]chan struct{}

	// writeMu serializes outbound frames so chunk order is preserved.
	writeMu sync.Mutex
}

// NewSession creates a session on conn. It does not read until Run is called.
func NewSession(conn Conn, opts ...Option) *Session {
	s := &Session{
		conn:  conn,
		log:   slog.Default(),
		marks: make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAudioSink binds the consumer of inbound µ-law audio. Media frames
// arriving while no sink is bound are dropped.
func (s *Session) SetAudioSink(sink func([]byte)) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// StreamSid returns the carrier-assigned stream identifier, or "" before the
// start event.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// Run reads and dispatches inbound frames until the carrier stops the stream,
// the transport fails, or ctx is done. It always invokes the stop handler
// exactly once on the way out.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Remote close after stop is the normal end of a stream.
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("media: read: %w", err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			s.log.Warn("dropping unparseable media frame", "error", err)
			continue
		}

		switch frame.Event {
		case EventStart:
			if err := s.handleStart(frame); err != nil {
				return err
			}
		case EventMedia:
			s.handleMedia(frame)
		case EventMark:
			s.handleMark(frame)
		case EventStop:
			s.log.Debug("media stream stopped by carrier", "streamSid", s.StreamSid())
			return nil
		default:
			// connected, dtmf and other informational events.
		}
	}
}

func (s *Session) handleStart(frame Frame) error {
	if frame.Start == nil {
		return errors.New("media: start frame without start payload")
	}

	s.mu.Lock()
	s.streamSid = frame.Start.StreamSid
	if s.streamSid == "" {
		s.streamSid = frame.StreamSid
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("media stream started",
		"streamSid", frame.Start.StreamSid, "callSid", frame.Start.CallSid)

	if s.onStart != nil {
		if err := s.onStart(*frame.Start); err != nil {
			return fmt.Errorf("media: reject stream: %w", err)
		}
	}
	return nil
}

func (s *Session) handleMedia(frame Frame) {
	s.mu.Lock()
	sink := s.sink
	ready := s.started && !s.closed
	s.mu.Unlock()

	// Frames before start or after stop carry no usable context.
	if !ready || sink == nil || frame.Media == nil {
		return
	}

	ulaw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil {
		s.log.Warn("dropping media frame with invalid base64 payload", "error", err)
		return
	}
	sink(ulaw)
}

func (s *Session) handleMark(frame Frame) {
	if frame.Mark == nil {
		return
	}
	s.mu.Lock()
	ch, ok := s.marks[frame.Mark.Name]
	if ok {
		delete(s.marks, frame.Mark.Name)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// shutdown marks the session closed and fires the stop handler. Pending mark
// waiters are released so an in-flight speak cannot hang on a dead stream.
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.marks
	s.marks = make(map[string]chan struct{})
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if s.onStop != nil {
		s.onStop()
	}
}

// Close ends the session and the underlying transport.
func (s *Session) Close() error {
	s.shutdown()
	return s.conn.Close()
}

// SendStream plays one synthesized buffer to the caller: pcm is mono 16-bit
// PCM at sampleRate, resampled to the telephony rate, µ-law encoded, split
// into 500 ms chunks and paced onto the socket. After the last chunk a mark
// is emitted; SendStream returns once the carrier echoes it, or after a
// deadline of audio duration plus a grace period for carriers that never
// echo marks.
//
// An empty buffer still emits the mark, so zero-length speech completes the
// turn protocol normally.
func (s *Session) SendStream(ctx context.Context, pcm []byte, sampleRate int) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	streamSid := s.streamSid
	s.mu.Unlock()

	if sampleRate != telephonyRate {
		pcm = audio.ResampleMono16(pcm, sampleRate, telephonyRate)
	}
	ulaw := audio.MuLawEncodeBytes(pcm)

	s.writeMu.Lock()
	chunks := 0
	for off := 0; off < len(ulaw); off += chunkBytes {
		end := min(off+chunkBytes, len(ulaw))
		chunk := ulaw[off:end]
		chunks++

		frame := Frame{
			Event:     EventMedia,
			StreamSid: streamSid,
			Media:     &Media{Payload: base64.StdEncoding.EncodeToString(chunk)},
		}
		if err := s.writeFrame(ctx, frame); err != nil {
			s.writeMu.Unlock()
			return err
		}

		// Pace at the chunk's playback duration minus a small lead so the
		// carrier-side buffer stays shallow.
		sleep := chunkDuration(len(chunk)) - paceLead
		if end < len(ulaw) && sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				s.writeMu.Unlock()
				return ctx.Err()
			}
		}
	}

	markName := uuid.NewString()
	echo := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return ErrSessionClosed
	}
	s.marks[markName] = echo
	s.mu.Unlock()

	err := s.writeFrame(ctx, Frame{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &Mark{Name: markName},
	})
	s.writeMu.Unlock()
	if err != nil {
		s.forgetMark(markName)
		return err
	}

	wait := time.Duration(chunks)*chunkDuration(chunkBytes) + markGrace
	select {
	case <-echo:
		return nil
	case <-time.After(wait):
		// Carrier may not support marks; treat playback as complete.
		s.forgetMark(markName)
		return nil
	case <-ctx.Done():
		s.forgetMark(markName)
		return ctx.Err()
	}
}

func (s *Session) writeFrame(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	data, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("media: encode frame: %w", err)
	}
	if err := s.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("media: write: %w", err)
	}
	return nil
}

func (s *Session) forgetMark(name string) {
	s.mu.Lock()
	delete(s.marks, name)
	s.mu.Unlock()
}

// chunkDuration is the playback time of n µ-law bytes at the telephony rate.
func chunkDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / telephonyRate
}
