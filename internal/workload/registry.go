// Package workload holds the named workloads the command line can run.
package workload

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/config"
)

// Factory builds a workload from the run configuration.
type Factory func(cfg *config.TestConfig) (loadgen.Workload, error)

// Info describes a registered workload.
type Info struct {
	Name        string
	Description string
}

type entry struct {
	info    Info
	factory Factory
}

// Registry maps workload names to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a workload. Names must be unique.
func (r *Registry) Register(name, description string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("workload name is required")
	}
	if factory == nil {
		return fmt.Errorf("workload %q has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("workload %q already registered", name)
	}
	r.entries[name] = entry{info: Info{Name: name, Description: description}, factory: factory}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name, description string, factory Factory) {
	if err := r.Register(name, description, factory); err != nil {
		panic(err)
	}
}

// Build creates the named workload.
func (r *Registry) Build(name string, cfg *config.TestConfig) (loadgen.Workload, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown workload %q, available: %v", name, r.Names())
	}
	w, err := e.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build workload %q: %w", name, err)
	}
	return w, nil
}

// Has reports whether a workload is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registered workload, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
