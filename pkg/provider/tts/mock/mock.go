// Package mock provides a scriptable in-memory tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/tts"
)

// Provider implements tts.Provider without any network access. By default it
// synthesizes a fixed-length silent buffer per request; tests override the
// output via Result or fail requests via Err.
type Provider struct {
	mu sync.Mutex

	// Rate is the reported sample rate. Defaults to 8000.
	Rate int

	// Result, when non-nil, is returned verbatim by Synthesize.
	Result *tts.Result

	// Err, when set, fails every Synthesize call.
	Err error

	// BytesPerRequest sizes the default silent buffer. Defaults to 16000
	// (one second of 8 kHz 16-bit PCM).
	BytesPerRequest int

	requests []string
}

// NewProvider returns a mock Provider with default settings.
func NewProvider() *Provider {
	return &Provider{}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "mock" }

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 8000
	}
	return p.Rate
}

// Synthesize implements tts.Provider, recording the requested text.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	if err := ctx.Err(); err != nil {
		return tts.Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, text)
	if p.Err != nil {
		return tts.Result{}, p.Err
	}
	if p.Result != nil {
		return *p.Result, nil
	}

	n := p.BytesPerRequest
	if n == 0 {
		n = 16000
	}
	rate := p.Rate
	if rate == 0 {
		rate = 8000
	}
	return tts.Result{PCM: make([]byte, n), SampleRate: rate}, nil
}

// SynthesizeStream implements tts.Provider, replaying the one-shot result in
// 4 KiB chunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (tts.Stream, error) {
	res, err := p.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return tts.BufferStream(res.PCM, res.SampleRate, 4096), nil
}

// Requests returns every text passed to Synthesize, in order.
func (p *Provider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	copy(out, p.requests)
	return out
}
