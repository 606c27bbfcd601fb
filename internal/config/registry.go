package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrProviderNotRegistered means a config entry names a provider nobody
// registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	byID map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byID: map[string]Factory[T]{}}
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.byID))
	for name := range f.byID {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry resolves the provider names used in [ProvidersConfig]. It is safe
// for concurrent use; a later registration replaces an earlier one.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		stt: newFactories[stt.Provider]("stt"),
		tts: newFactories[tts.Provider]("tts"),
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { register(r, r.tts, name, f) }

func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return create(r, r.llm, e) }
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) { return create(r, r.stt, e) }
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) { return create(r, r.tts, e) }

// Names lists the registered names of kind ("llm", "stt" or "tts") in
// lexical order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}

func register[T any](r *Registry, f factories[T], name string, fn Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.byID[name] = fn
}

func create[T any](r *Registry, f factories[T], e ProviderEntry) (T, error) {
	r.mu.RLock()
	fn, ok := f.byID[e.Name]
	known := f.names()
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (known: %s)", ErrProviderNotRegistered, f.kind, e.Name, strings.Join(known, ", "))
	}
	return fn(e)
}
