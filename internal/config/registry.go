package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/polish"
	"github.com/MrWong99/murmur/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
	polish     map[string]func(ProviderEntry) (polish.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		polish:     make(map[string]func(ProviderEntry) (polish.Provider, error)),
	}
}

// RegisterTranscribe registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterPolish registers a polishing provider factory under name.
func (r *Registry) RegisterPolish(name string, factory func(ProviderEntry) (polish.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polish[name] = factory
}

// CreateTranscribe instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePolish instantiates a polishing provider using the factory registered
// under entry.Name.
func (r *Registry) CreatePolish(entry ProviderEntry) (polish.Provider, error) {
	r.mu.RLock()
	factory, ok := r.polish[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: polish/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
