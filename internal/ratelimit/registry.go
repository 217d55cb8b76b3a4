package ratelimit

import (
	"sort"
	"sync"
)

// Registry holds one limiter per provider so that every orchestrator in a
// process draws on the same budget.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Get returns the limiter for name, creating it with cfg on first use.
// Later calls return the existing limiter and ignore cfg.
func (r *Registry) Get(name string, cfg Config) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l, nil
	}
	l, err := New(name, cfg)
	if err != nil {
		return nil, err
	}
	r.limiters[name] = l
	return l, nil
}

// Names returns the registered provider ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every limiter.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	limiters := make(map[string]*Limiter, len(r.limiters))
	for name, l := range r.limiters {
		limiters[name] = l
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(limiters))
	for name, l := range limiters {
		out[name] = l.Stats()
	}
	return out
}
