// Package resilience keeps a call alive when one of its upstream backends —
// a transcription service, a synthesis endpoint, the carrier API — starts
// failing. A [CircuitBreaker] stops hammering a backend that keeps erroring,
// and a [FallbackGroup] routes around it to a standby backend.
//
// All types are safe for concurrent use across calls.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and its cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call. The normal mode.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen]. Entered after the
	// failure threshold is hit, left once the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to test
	// whether the backend has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes one breaker. Zero values fall back to defaults.
type CircuitBreakerConfig struct {
	// Name labels the guarded backend in log output (e.g. "deepgram").
	Name string

	// MaxFailures is how many consecutive failures close→open tolerates.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the open-state cooldown before probing resumes.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed while half-open. Default 3.
	HalfOpenMax int
}

// CircuitBreaker guards one upstream backend with the classic
// closed → open → half-open cycle.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeMax    int

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	probes        int
	probeFails    int
}

// NewCircuitBreaker builds a breaker from cfg, defaulting any zero field.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.ResetTimeout,
		probeMax:    cfg.HalfOpenMax,
		state:       StateClosed,
	}
}

// Execute runs fn unless the breaker rejects it. Open with an elapsed
// cooldown flips to half-open first; half-open admits at most HalfOpenMax
// probes.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("backend cooldown elapsed, probing", "backend", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.probeMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// onFailure is the failure bookkeeping. Caller holds cb.mu.
func (cb *CircuitBreaker) onFailure(probing bool) {
	cb.lastFailureAt = time.Now()

	if probing {
		cb.probeFails++
		// One failed probe is enough: back to open for a full cooldown.
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("backend probe failed, bypassing again", "backend", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("backend failing repeatedly, bypassing",
			"backend", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// onSuccess is the success bookkeeping. Caller holds cb.mu.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if !probing {
		cb.failures = 0
		return
	}
	if cb.probes-cb.probeFails >= cb.probeMax {
		cb.state = StateClosed
		cb.failures = 0
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("backend recovered", "backend", cb.name)
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports half-open; the stored state flips on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailureAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters. Operator escape
// hatch; normal recovery goes through the half-open probes.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("backend breaker reset", "backend", cb.name)
}
