// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns agent text into raw mono 16-bit PCM at the provider's
// native sample rate. Callers resample and transcode for the telephony leg;
// providers never emit container formats through this interface.
package tts

import (
	"context"
	"io"
)

// Result is synthesized speech audio.
type Result struct {
	// PCM is little-endian mono 16-bit PCM.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Name identifies the backend (e.g. "openai"). Used in logs and the
	// health endpoint.
	Name() string

	// Synthesize renders text to speech in full. Synthesis respects ctx for
	// cancellation and timeouts.
	Synthesize(ctx context.Context, text string) (Result, error)

	// SynthesizeStream renders text to speech as a lazy sequence of PCM
	// chunks, for callers that care about first-audio latency. The stream is
	// restartable per call, not per chunk: a failed stream is retried by
	// calling SynthesizeStream again.
	SynthesizeStream(ctx context.Context, text string) (Stream, error)

	// SampleRate reports the native output sample rate of the backend. The
	// result of Synthesize always matches it.
	SampleRate() int
}

// Stream is a finite sequence of synthesized PCM chunks.
type Stream interface {
	// Next returns the next chunk of mono 16-bit PCM, or io.EOF once the
	// utterance is complete. A chunk is never empty.
	Next() ([]byte, error)

	// SampleRate is the rate of all chunks in Hz.
	SampleRate() int

	// Close releases the underlying transport. Safe to call at any point.
	Close() error
}

// BufferStream wraps fully-synthesized audio in a Stream that yields it in
// chunkSize pieces. Backends that cannot stream (container-only endpoints,
// mocks) use it to satisfy SynthesizeStream.
func BufferStream(pcm []byte, sampleRate, chunkSize int) Stream {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &bufferStream{pcm: pcm, rate: sampleRate, chunk: chunkSize}
}

type bufferStream struct {
	pcm    []byte
	rate   int
	chunk  int
	off    int
	closed bool
}

func (b *bufferStream) Next() ([]byte, error) {
	if b.closed || b.off >= len(b.pcm) {
		return nil, io.EOF
	}
	end := b.off + b.chunk
	if end > len(b.pcm) {
		end = len(b.pcm)
	}
	out := b.pcm[b.off:end]
	b.off = end
	return out, nil
}

func (b *bufferStream) SampleRate() int { return b.rate }

func (b *bufferStream) Close() error {
	b.closed = true
	return nil
}
