// Package capability holds the process-lifetime registry of capability
// descriptors, trigger event descriptors, and capability implementations.
// Registration happens once at startup; lookups afterwards are read-only.
package capability

import (
	"fmt"
	"sort"
	"sync"

	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

// Descriptor aliases the public descriptor type so internal packages have a
// single import for registry lookups.
type Descriptor = pkgcap.Descriptor

type Registry struct {
	mu     sync.RWMutex
	caps   map[string]*Descriptor
	events map[string]*pkgcap.EventDescriptor
	impls  map[string]pkgcap.Implementation
}

func NewRegistry() *Registry {
	return &Registry{
		caps:   make(map[string]*Descriptor),
		events: make(map[string]*pkgcap.EventDescriptor),
		impls:  make(map[string]pkgcap.Implementation),
	}
}

// Register adds or replaces a descriptor. Registration is idempotent by name;
// the last registration wins.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.caps[d.Name] = &cp
	return nil
}

// Get looks up a descriptor by name. A missing name is not an error; callers
// decide whether it is fatal.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.caps[name]
	return d, ok
}

// List returns all registered capability names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClassIndex builds the reverse index from constructor class name and alias
// to descriptor. The tracer resolves `new X(...)` identifiers against it.
func (r *Registry) ClassIndex() map[string]*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index := make(map[string]*Descriptor, len(r.caps)*2)
	for _, d := range r.caps {
		index[d.ClassName] = d
		if d.Alias != "" {
			index[d.Alias] = d
		}
	}
	return index
}

// Len reports how many capabilities are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// RegisterEvent declares a trigger event type and its payload shape.
func (r *Registry) RegisterEvent(e *pkgcap.EventDescriptor) error {
	if e.Type == "" {
		return fmt.Errorf("event descriptor: type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events[e.Type] = &cp
	return nil
}

// Event looks up a trigger event descriptor by type.
func (r *Registry) Event(eventType string) (*pkgcap.EventDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[eventType]
	return e, ok
}

// Bind attaches an implementation to a registered capability.
func (r *Registry) Bind(name string, impl pkgcap.Implementation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caps[name]; !ok {
		return fmt.Errorf("capability %q not registered", name)
	}
	r.impls[name] = impl
	return nil
}

// Implementation returns the bound implementation for a capability name.
func (r *Registry) Implementation(name string) (pkgcap.Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[name]
	return impl, ok
}
