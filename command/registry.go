package command

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned for a command name nobody registered.
var ErrNotFound = errors.New("command not found")

// Factory builds a fresh command each time one is requested.
type Factory func() Command

// Registry maps names to command factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return errors.New("command name must not be empty")
	}
	if factory == nil {
		return errors.Errorf("command %q has a nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	return nil
}

// Get builds the command registered under name.
func (r *Registry) Get(name string) (Command, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return factory(), nil
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
