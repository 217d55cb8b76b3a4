// Package provider defines the adapter interface for search and scrape
// providers and the concrete adapters the engine can fall back across.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
)

// Adapter wraps one external provider behind a uniform contract.
type Adapter interface {
	// Name returns the stable provider id (e.g. "brave").
	Name() string
	// Configured reports whether credentials are present. It performs no I/O.
	Configured() bool
	// Execute performs one call. It must honour ctx and returns typed
	// resilience errors for transport and parse failures. An empty slice
	// with a nil error means the provider had nothing for the query.
	Execute(ctx context.Context, q model.Query) ([]model.RawResult, error)
}

// Registry maps provider ids to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds a provider to the registry, replacing any with the same id.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns a provider by id, or nil if not found.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns all registered provider ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the adapters for names in the given order. Unknown ids
// are an error.
func (r *Registry) Resolve(names []string) ([]Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, ok := r.adapters[name]
		if !ok {
			return nil, eris.Errorf("provider: unknown provider %q", name)
		}
		out = append(out, a)
	}
	return out, nil
}
