package loader

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Program is what a factory instantiates for one run: the entry point plus
// the attribute descriptor table the image exports, either of which may be
// absent. The entry is held untyped; the core asserts it to its own entry
// signature, the way a resolved address is cast at the call site.
type Program struct {
	Entry    any
	TypeInfo []*TypeDesc
}

// Factory builds a fresh Program instance. A new instance per load keeps
// object state from leaking between runs.
type Factory func() Program

// Registry maps program names to factories.
type Registry struct {
	mu       sync.Mutex
	programs map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("loader registry: empty program name")
	}
	if f == nil {
		return fmt.Errorf("loader registry: %q has no factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[name]; ok {
		return fmt.Errorf("loader registry: duplicate program %q", name)
	}
	r.programs[name] = f
	return nil
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.programs[name]
	return f, ok
}

// Names returns the registered program names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.programs))
	for name := range r.programs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
