package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/trunkline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// Mixed-rate chains are fine: every [tts.Result] carries its own sample rate,
// so the media layer resamples whichever backend actually answered.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	names []string
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional synthesis backend. Fallbacks are tried
// in registration order after the primary.
func (f *TTSFallback) AddFallback(provider tts.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Name implements tts.Provider, naming the whole failover chain.
func (f *TTSFallback) Name() string {
	return strings.Join(f.names, "+")
}

// SampleRate implements tts.Provider. It reports the primary's native rate;
// results from a fallback declare their own rate.
func (f *TTSFallback) SampleRate() int {
	return f.group.Primary().SampleRate()
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Result, error) {
		return p.Synthesize(ctx, text)
	})
}

// SynthesizeStream opens a chunk stream on the first healthy backend. Only
// opening the stream is covered by failover; chunk errors mid-stream surface
// to the caller, who may restart the whole utterance.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string) (tts.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Stream, error) {
		return p.SynthesizeStream(ctx, text)
	})
}
