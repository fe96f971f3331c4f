package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Entry pairs a configured adapter with its registry metadata.
type Entry struct {
	Info    ProviderInfo
	Adapter Provider
}

// Registry is a thread-safe registry owning the set of configured provider
// adapters, keyed by stable identifier. Providers are never removed at
// runtime; administrative action or the health prober flips their status
// instead.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // stable registration order for deterministic listings
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a provider to the registry. Registering an existing ID
// replaces the adapter but keeps the original position in the stable order.
func (r *Registry) Register(info ProviderInfo, adapter Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[info.ID]; !ok {
		r.order = append(r.order, info.ID)
	}
	r.entries[info.ID] = &Entry{Info: info, Adapter: adapter}
}

// Get retrieves a provider entry by identifier.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// All returns every configured provider regardless of status, in stable order.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		cp := *r.entries[id]
		out = append(out, &cp)
	}
	return out
}

// Active returns providers that are enabled and in operational status active.
func (r *Registry) Active() []*Entry {
	return r.filter(func(e *Entry) bool {
		return e.Info.Enabled && e.Info.Status == StatusActive
	})
}

// ByCapability returns active providers declaring the given capability.
func (r *Registry) ByCapability(c Capability) []*Entry {
	return r.filter(func(e *Entry) bool {
		return e.Info.Enabled && e.Info.Status == StatusActive && e.Info.HasCapability(c)
	})
}

// ForModel returns active providers declaring the given model.
func (r *Registry) ForModel(model string) []*Entry {
	return r.filter(func(e *Entry) bool {
		return e.Info.Enabled && e.Info.Status == StatusActive && e.Info.SupportsModel(model)
	})
}

// SetStatus mutates a provider's operational status.
func (r *Registry) SetStatus(id string, status ProviderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("provider %q not registered", id)
	}
	e.Info.Status = status
	return nil
}

// Status returns a provider's current operational status.
func (r *Registry) Status(id string) (ProviderStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.Info.Status, true
}

// IDs returns the sorted identifiers of all registered providers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) filter(keep func(*Entry) bool) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, id := range r.order {
		e := r.entries[id]
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
