package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] either
// failed or sat behind an open breaker.
var ErrAllFailed = errors.New("every backend failed")

// FallbackConfig configures the breaker stamped onto each backend of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// backend pairs one provider instance with its dedicated breaker.
type backend[T any] struct {
	name    string
	impl    T
	breaker *CircuitBreaker
}

// FallbackGroup routes calls to a preferred backend and fails over to
// standbys in registration order. A backend behind an open breaker is
// bypassed without being called, so one dead transcription or synthesis
// endpoint costs a log line instead of a dial timeout per turn.
//
// Safe for concurrent use.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group with primary as the preferred backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a standby backend, tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, standby T) {
	g.add(name, standby)
}

func (g *FallbackGroup[T]) add(name string, impl T) {
	cbCfg := g.cfg.CircuitBreaker
	cbCfg.Name = name
	g.backends = append(g.backends, backend[T]{
		name:    name,
		impl:    impl,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Primary returns the preferred backend's instance.
func (g *FallbackGroup[T]) Primary() T {
	return g.backends[0].impl
}

// Execute runs fn against each backend in order until one succeeds. Failing
// everywhere yields [ErrAllFailed] wrapping the last error.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(impl T) (struct{}, error) {
		return struct{}{}, fn(impl)
	})
	return err
}

// ExecuteWithResult runs fn against each backend in order until one succeeds
// and returns its result. A package-level function because Go methods cannot
// introduce the result type parameter.
func ExecuteWithResult[T any, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.backends {
		b := &g.backends[i]
		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(b.impl)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend bypassed, breaker open", "backend", b.name)
		} else {
			slog.Warn("backend failed, trying standby", "backend", b.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
