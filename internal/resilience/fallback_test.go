package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	g := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{CircuitBreaker: cfg})
	g.AddFallback("openai", "openai")
	return g
}

func TestFallbackGroup_PrefersPrimary(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := g.Execute(func(name string) error {
		served = name
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "deepgram" {
		t.Fatalf("served by %q, want deepgram", served)
	}
}

func TestFallbackGroup_FailsOverToStandby(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := g.Execute(func(name string) error {
		if name == "deepgram" {
			return errBackendDown
		}
		served = name
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "openai" {
		t.Fatalf("served by %q, want openai", served)
	}
}

func TestFallbackGroup_AllBackendsFail(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := g.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerBypassesBackend(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// Two failed turns open the primary's breaker.
	for i := 0; i < 2; i++ {
		_ = g.Execute(func(name string) error {
			if name == "deepgram" {
				return errBackendDown
			}
			return nil
		})
	}

	// From now on the primary must not even be called.
	var calls []string
	err := g.Execute(func(name string) error {
		calls = append(calls, name)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 1 || calls[0] != "openai" {
		t.Fatalf("backends called: %v, want [openai]", calls)
	}
}

func TestFallbackGroup_Primary(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{})
	if got := g.Primary(); got != "deepgram" {
		t.Fatalf("Primary = %q, want deepgram", got)
	}
}

func TestExecuteWithResult_ReturnsPrimaryResult(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(g, func(name string) (string, error) {
		return "transcript from " + name, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "transcript from deepgram" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_FailsOver(t *testing.T) {
	g := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(g, func(name string) (string, error) {
		if name == "deepgram" {
			return "", errBackendDown
		}
		return "transcript from " + name, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "transcript from openai" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	g := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(g, func(string) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
