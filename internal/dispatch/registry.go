package dispatch

import (
	"fmt"
	"regexp"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/registry"
)

var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// ValidModuleID reports whether id is a well formed module identifier such
// as "log" or "webhook.send".
func ValidModuleID(id string) bool {
	return moduleIDPattern.MatchString(id)
}

type entry struct {
	module  Module
	timeout time.Duration
}

// RegisterOption customises a registration.
type RegisterOption func(*entry)

// WithTimeout overrides the dispatcher's default call timeout for one module.
func WithTimeout(d time.Duration) RegisterOption {
	return func(e *entry) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Registry maps module IDs to implementations.
type Registry struct {
	entries *registry.Registry[entry]
}

func NewRegistry() *Registry {
	return &Registry{entries: registry.New[entry]("module")}
}

// Register adds m under id. IDs must be unique and well formed.
func (r *Registry) Register(id string, m Module, opts ...RegisterOption) error {
	if !ValidModuleID(id) {
		return errors.ValidationError(fmt.Sprintf("invalid module id %q", id))
	}
	if m == nil {
		return errors.ValidationError(fmt.Sprintf("module %q is nil", id))
	}
	e := entry{module: m}
	for _, opt := range opts {
		opt(&e)
	}
	return r.entries.Register(id, e)
}

// MustRegister is Register for wiring code; it panics on error.
func (r *Registry) MustRegister(id string, m Module, opts ...RegisterOption) {
	if err := r.Register(id, m, opts...); err != nil {
		panic(err)
	}
}

// Lookup returns the module registered under id and its timeout override
// (zero when none).
func (r *Registry) Lookup(id string) (Module, time.Duration, error) {
	e, err := r.entries.Get(id)
	if err != nil {
		return nil, 0, err
	}
	return e.module, e.timeout, nil
}

func (r *Registry) Has(id string) bool {
	return r.entries.IsRegistered(id)
}

// IDs lists registered module IDs in sorted order.
func (r *Registry) IDs() []string {
	return r.entries.Names()
}
