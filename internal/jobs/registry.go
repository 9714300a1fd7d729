package jobs

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps job type names to their definitions. Registration is
// one-shot during start-up; Freeze publishes an immutable snapshot that
// later lookups read without locking.
type Registry struct {
	mu       sync.Mutex
	defs     map[string]*Definition
	snapshot atomic.Pointer[map[string]*Definition]
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition, applying defaults. Duplicate names and
// registration after Freeze are rejected.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot.Load() != nil {
		return fmt.Errorf("registry is frozen; cannot register %q", def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("job %q is already registered", def.Name)
	}
	normalized := def.normalize()
	r.defs[def.Name] = &normalized
	return nil
}

// MustRegister is Register for start-up wiring where a bad definition is
// a programming error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Freeze publishes the registered definitions for lock-free lookup.
// Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot.Load() != nil {
		return
	}
	frozen := make(map[string]*Definition, len(r.defs))
	for name, def := range r.defs {
		frozen[name] = def
	}
	r.snapshot.Store(&frozen)
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	if frozen := r.snapshot.Load(); frozen != nil {
		def, ok := (*frozen)[name]
		return def, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered job type names, sorted.
func (r *Registry) Names() []string {
	var names []string
	if frozen := r.snapshot.Load(); frozen != nil {
		for name := range *frozen {
			names = append(names, name)
		}
	} else {
		r.mu.Lock()
		for name := range r.defs {
			names = append(names, name)
		}
		r.mu.Unlock()
	}
	sort.Strings(names)
	return names
}
