package capability

import (
	"fmt"
	"sort"
)

// Registry maps capability names to their descriptors. It is built before a
// run and treated as read-only while any run that references it is active,
// so a single registry may be shared across concurrently running agents.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry constructs a registry from the given capabilities, rejecting
// duplicates and anonymous entries.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a capability. Only legal between runs; the loop never calls
// it.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability has no name")
	}
	if c.Fn == nil {
		return fmt.Errorf("capability %s has no invoke func", c.Name)
	}
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("capability %s already registered", c.Name)
	}
	r.caps[c.Name] = c
	return nil
}

// Lookup returns the named capability or a *NotFoundError listing what is
// registered.
func (r *Registry) Lookup(name string) (Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return Capability{}, &NotFoundError{Name: name, Available: r.Names()}
	}
	return c, nil
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas exports provider-facing descriptors for every capability, in name
// order so prompts are deterministic.
func (r *Registry) Schemas() []Schema {
	schemas := make([]Schema, 0, len(r.caps))
	for _, name := range r.Names() {
		c := r.caps[name]
		schemas = append(schemas, Schema{
			Name:        c.Name,
			Description: c.Description,
			JSONSchema:  c.SchemaJSON,
			Returns:     c.Returns,
		})
	}
	return schemas
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int { return len(r.caps) }
