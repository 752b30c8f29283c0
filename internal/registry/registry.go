// Package registry holds endpoint descriptors and their mutable runtime
// state. Endpoint immutable fields are loaded once at
// startup; each endpoint's mutable state is guarded by its own mutex, per
// the shared-resource policy.
package registry

import (
	"sort"
	"sync"

	"github.com/airouter/airouter/internal/types"
)

// entry pairs an endpoint's immutable descriptor with its own mutex
// guarding the mutable fields embedded in types.Endpoint.
type entry struct {
	mu sync.RWMutex
	ep types.Endpoint
}

// Registry holds all configured endpoints.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New builds a Registry from a fixed, immutable set of endpoint
// descriptors loaded at startup.
func New(endpoints []types.Endpoint) *Registry {
	r := &Registry{entries: make(map[string]*entry, len(endpoints))}
	for _, ep := range endpoints {
		if ep.Health == "" {
			ep.Health = types.HealthUnknown
		}
		if ep.BreakerState == "" {
			ep.BreakerState = types.BreakerClosed
		}
		r.entries[ep.Name] = &entry{ep: ep}
		r.order = append(r.order, ep.Name)
	}
	return r
}

// Get returns a snapshot copy of the named endpoint.
func (r *Registry) Get(name string) (types.Endpoint, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return types.Endpoint{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ep, true
}

// List returns snapshot copies of all endpoints, ordered by priority
// ascending then by last_latency_ms ascending.
func (r *Registry) List() []types.Endpoint {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make([]types.Endpoint, 0, len(names))
	for _, n := range names {
		if ep, ok := r.Get(n); ok {
			out = append(out, ep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].LastLatency < out[j].LastLatency
	})
	return out
}

// MutateHealth atomically updates the named endpoint's health-related
// fields under its own mutex.
func (r *Registry) MutateHealth(name string, fn func(ep *types.Endpoint)) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	fn(&e.ep)
	e.mu.Unlock()
}

// Names returns the registered endpoint names in load order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
