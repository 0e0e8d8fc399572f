package doqu

import "sync"

// Registry is a named collection of schemas. Its single purpose is
// resolving lazy reference targets: a field declared with LazyRef("x")
// finds schema "x" here when first dereferenced, which breaks
// declaration-order cycles between mutually referencing schemas.
//
// Construct one registry per application (or per schema universe) and
// attach schemas via SchemaBuilder.In.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema under its name. Registering a second schema
// under an existing name is a hard error; there is no implicit
// replacement.
func (r *Registry) Register(s *Schema) error {
	if s == nil || s.name == "" {
		return schemaErr("cannot register unnamed schema")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.name]; exists {
		return schemaErr("schema %q is already registered", s.name)
	}
	r.schemas[s.name] = s
	return nil
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered schema names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
