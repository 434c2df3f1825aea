package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/astraloracle/oracle/pkg/provider/image"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	llm    factories[llm.Provider]
	image  factories[image.Provider]
	s2s    factories[s2s.Provider]
	avatar factories[avatar.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:    newFactories[llm.Provider]("llm"),
		image:  newFactories[image.Provider]("image"),
		s2s:    newFactories[s2s.Provider]("s2s"),
		avatar: newFactories[avatar.Provider]("avatar"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, factory Factory[image.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image.m[name] = factory
}

// RegisterS2S registers a realtime speech provider factory under name.
func (r *Registry) RegisterS2S(name string, factory Factory[s2s.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s.m[name] = factory
}

// RegisterAvatar registers an avatar provider factory under name.
func (r *Registry) RegisterAvatar(name string, factory Factory[avatar.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avatar.m[name] = factory
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateImage instantiates the image provider registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image.create(entry)
}

// CreateS2S instantiates the realtime speech provider registered under entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.create(entry)
}

// CreateAvatar instantiates the avatar provider registered under entry.Name.
func (r *Registry) CreateAvatar(entry ProviderEntry) (avatar.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.avatar.create(entry)
}

// Names lists the registered provider names of kind ("llm", "image",
// "s2s" or "avatar"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "image":
		return r.image.names()
	case "s2s":
		return r.s2s.names()
	case "avatar":
		return r.avatar.names()
	}
	return nil
}
