package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
// Only opening the stream is covered by failover; once a session is live, the
// call-side recognizer owns reconnection.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
	names []string
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional transcription backend. Fallbacks are
// tried in registration order after the primary.
func (f *STTFallback) AddFallback(provider stt.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Name implements stt.Provider, naming the whole failover chain.
func (f *STTFallback) Name() string {
	return strings.Join(f.names, "+")
}

// StartStream opens a streaming transcription session against the first
// healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
