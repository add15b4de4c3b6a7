package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/fisimaster/studybuddy/internal/kvstore"
	"github.com/fisimaster/studybuddy/pkg/provider/llm"
	"github.com/fisimaster/studybuddy/pkg/provider/stt"
	"github.com/fisimaster/studybuddy/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when nothing is registered under the
// requested name or storage backend.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// StoreFactory opens a durable store from the storage section.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (kvstore.Store, error)

// factories is one named set of constructors.
type factories[K ~string, F any] struct {
	kind string
	m    map[K]F
}

func newFactories[K ~string, F any](kind string) factories[K, F] {
	return factories[K, F]{kind: kind, m: make(map[K]F)}
}

func (f factories[K, F]) lookup(name K) (F, error) {
	fn, ok := f.m[name]
	if !ok {
		return fn, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

func (f factories[K, F]) names() []string {
	out := make([]string, 0, len(f.m))
	for k := range f.m {
		out = append(out, string(k))
	}
	slices.Sort(out)
	return out
}

// Registry maps the names used in the config file to constructors. A later
// registration under the same name replaces the earlier one. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[string, func(ProviderEntry) (llm.Provider, error)]
	stt   factories[string, func(ProviderEntry) (stt.Provider, error)]
	tts   factories[string, func(ProviderEntry) (tts.Provider, error)]
	store factories[Backend, StoreFactory]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:   newFactories[string, func(ProviderEntry) (llm.Provider, error)]("llm"),
		stt:   newFactories[string, func(ProviderEntry) (stt.Provider, error)]("stt"),
		tts:   newFactories[string, func(ProviderEntry) (tts.Provider, error)]("tts"),
		store: newFactories[Backend, StoreFactory]("storage"),
	}
}

func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.m[name] = factory
	r.mu.Unlock()
}

func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	r.stt.m[name] = factory
	r.mu.Unlock()
}

func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	r.tts.m[name] = factory
	r.mu.Unlock()
}

func (r *Registry) RegisterStore(backend Backend, factory StoreFactory) {
	r.mu.Lock()
	r.store.m[backend] = factory
	r.mu.Unlock()
}

// CreateLLM builds the language model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	fn, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateSTT builds the recognizer named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	fn, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateTTS builds the synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	fn, err := r.tts.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateStore opens the backend selected by cfg.Backend.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (kvstore.Store, error) {
	r.mu.RLock()
	fn, err := r.store.lookup(cfg.Backend)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(ctx, cfg)
}

// Registered lists the registered names per kind ("llm", "stt", "tts",
// "storage"), sorted.
func (r *Registry) Registered() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind:   r.llm.names(),
		r.stt.kind:   r.stt.names(),
		r.tts.kind:   r.tts.names(),
		r.store.kind: r.store.names(),
	}
}
