// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (Deepgram or the
// OpenAI Realtime transcription API) and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts 8 kHz µ-law audio and emits two streams of Transcript values —
// low-latency partials for responsiveness and authoritative finals for the
// turn protocol. Endpoint detection (utterance end after sustained silence)
// is mandatory: every implementation must deliver either SpeechFinal results
// or standalone UtteranceEnd markers on the finals stream.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Encoding identifies the wire format of audio pushed into a session.
type Encoding string

const (
	// EncodingMuLaw is 8-bit G.711 µ-law, the telephony media format.
	EncodingMuLaw Encoding = "mulaw"

	// EncodingLinear16 is little-endian 16-bit PCM.
	EncodingLinear16 Encoding = "linear16"
)

// StreamConfig describes the audio format and endpointing behaviour for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony media is 8000.
	SampleRate int

	// Channels is the number of audio channels. Telephony media is mono.
	Channels int

	// Encoding is the audio wire format.
	Encoding Encoding

	// Endpointing is the span of non-speech after speech that closes an
	// utterance. Zero selects the provider default (800 ms).
	Endpointing time.Duration

	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect where supported.
	Language string
}

// Transcript is a single recognition result from a streaming session.
type Transcript struct {
	// Text is the recognised text of this segment. Empty for standalone
	// utterance-end markers.
	Text string

	// IsFinal reports whether this segment is authoritative. Non-final
	// (interim) segments may be superseded by later results.
	IsFinal bool

	// SpeechFinal reports that the endpointer closed the utterance with this
	// result: the accumulated finals form a complete answer.
	SpeechFinal bool

	// UtteranceEnd marks a standalone endpoint event carrying no text.
	UtteranceEnd bool

	// Confidence is the provider's confidence in Text, in [0, 1]. Zero when
	// the provider does not report one.
	Confidence float64
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and the upstream connection. All methods are safe for
// concurrent use. Both channels are closed when the upstream connection ends,
// whether by Close or by a remote disconnect — callers distinguish the two by
// whether they initiated Close.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio in the session's configured
	// encoding. It never blocks on the network; chunks are queued internally.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. Suitable for
	// logging and progress display; must not be treated as answers.
	Partials() <-chan Transcript

	// Finals returns the channel of authoritative transcripts and
	// utterance-end markers, in recognition order.
	Finals() <-chan Transcript

	// Close terminates the session, flushing pending audio upstream.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// Name identifies the backend (e.g. "deepgram"). Used in logs and the
	// health endpoint.
	Name() string

	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. Establishing the
	// session respects ctx; callers impose their connect timeout through it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
