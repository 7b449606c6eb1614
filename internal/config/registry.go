package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one provider kind's name-to-constructor table.
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
	return factory(entry)
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Transcriber]
	ocr        factories[ocr.Extractor]
	classifier factories[classifier.Predictor]
	llm        factories[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactories[stt.Transcriber]("stt"),
		ocr:        newFactories[ocr.Extractor]("ocr"),
		classifier: newFactories[classifier.Predictor]("classifier"),
		llm:        newFactories[llm.Provider]("llm"),
	}
}

// RegisterSTT registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterOCR registers a text extractor factory under name.
func (r *Registry) RegisterOCR(name string, factory Factory[ocr.Extractor]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr.m[name] = factory
}

// RegisterClassifier registers a hosted classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory Factory[classifier.Predictor]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// CreateSTT instantiates the transcriber registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateOCR instantiates the text extractor registered under entry.Name.
func (r *Registry) CreateOCR(entry ProviderEntry) (ocr.Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ocr.create(entry)
}

// CreateClassifier instantiates the hosted classifier registered under
// entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Predictor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classifier.create(entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"stt":        r.stt.names(),
		"ocr":        r.ocr.names(),
		"classifier": r.classifier.names(),
		"llm":        r.llm.names(),
	}
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptStrings extracts a string list from a provider Options map. A single
// string is returned as a one-element list.
func OptStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
