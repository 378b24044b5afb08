package gateway

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages gateway backends by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Gateway
	primary  string
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Gateway),
	}
}

// Register adds a backend to the registry. The first backend registered
// becomes the default.
func (r *Registry) Register(g Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("gateway %q already registered", name)
	}
	r.backends[name] = g
	if r.primary == "" {
		r.primary = name
	}
	return nil
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("gateway %q not found", name)
	}
	return g, nil
}

// SetDefault selects the backend returned by Default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[name]; !ok {
		return fmt.Errorf("gateway %q not found", name)
	}
	r.primary = name
	return nil
}

// Default returns the default backend.
func (r *Registry) Default() (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		return nil, fmt.Errorf("no gateway registered")
	}
	return r.backends[r.primary], nil
}

// List returns all registered backend names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
