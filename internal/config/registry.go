package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/stt"
	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/MrWong99/trunkline/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	telephony map[PhoneProviderName]func(*Config) (telephony.Provider, error)
	tts       map[string]func(*Config) (tts.Provider, error)
	stt       map[STTProviderName]func(*Config) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		telephony: make(map[PhoneProviderName]func(*Config) (telephony.Provider, error)),
		tts:       make(map[string]func(*Config) (tts.Provider, error)),
		stt:       make(map[STTProviderName]func(*Config) (stt.Provider, error)),
	}
}

// RegisterTelephony registers a carrier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTelephony(name PhoneProviderName, factory func(*Config) (telephony.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telephony[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(*Config) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSTT registers a transcription provider factory under name.
func (r *Registry) RegisterSTT(name STTProviderName, factory func(*Config) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateTelephony instantiates the carrier selected by cfg.Phone.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTelephony(cfg *Config) (telephony.Provider, error) {
	r.mu.RLock()
	factory, ok := r.telephony[cfg.Phone.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: telephony/%q", ErrProviderNotRegistered, cfg.Phone.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates the synthesis provider registered under name.
func (r *Registry) CreateTTS(name string, cfg *Config) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateSTT instantiates the transcription provider selected by
// [Config.ResolveSTTProvider].
func (r *Registry) CreateSTT(cfg *Config) (stt.Provider, error) {
	name := cfg.ResolveSTTProvider()
	r.mu.RLock()
	factory, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
