// Package registry provides a generic, thread-safe name to value registry.
// The engine uses it for action modules and broker factories.
//
// Example usage:
//
//	modules := registry.New[Module]("module")
//	_ = modules.Register("log", logModule)
//	m, err := modules.Get("log")
package registry

import (
	"fmt"
	"sort"
	"sync"

	"automation-engine/internal/common/errors"
)

// Registry maps string identifiers to values of type T.
type Registry[T any] struct {
	kind    string
	entries map[string]T
	mu      sync.RWMutex
}

// New creates an empty registry. kind names the registered things in
// error messages.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]T),
	}
}

// Register adds value under name. Registering a name twice is a conflict.
func (r *Registry[T]) Register(name string, value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.ConflictError(fmt.Sprintf("%s %q is already registered", r.kind, name))
	}
	r.entries[name] = value
	return nil
}

// Replace adds or overwrites value under name.
func (r *Registry[T]) Replace(name string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = value
}

// Get returns the value registered under name or a not-found error.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	value, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("%s %s", r.kind, name))
	}
	return value, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[T]) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
