package doqu

import "strings"

// Schema holds the declared metadata for one document type: structure
// (field name to type), validators, defaults, labels and processors.
// A schema with a non-empty structure is authoritative: reads and
// writes of unlisted fields fail with ErrSchema. A schema with no
// declared fields accepts anything (free-form).
//
// Schemas are immutable once built; construct them with NewSchema.
type Schema struct {
	name        string
	label       string
	labelPlural string

	fields     map[string]*FieldSpec
	order      []string
	validators map[string][]Validator

	// strict controls construction from incoming data: a value failing
	// validation aborts construction instead of leaving the field unset.
	strict bool

	registry *Registry
}

// Name returns the schema name given at declaration time.
func (s *Schema) Name() string { return s.name }

// Label returns the human-readable singular label, derived from the
// name unless declared explicitly.
func (s *Schema) Label() string {
	if s.label != "" {
		return s.label
	}
	return strings.ReplaceAll(s.name, "_", " ")
}

// LabelPlural returns the plural label, defaulting to Label + "s".
func (s *Schema) LabelPlural() string {
	if s.labelPlural != "" {
		return s.labelPlural
	}
	return s.Label() + "s"
}

// FreeForm reports whether the schema declares no structure.
func (s *Schema) FreeForm() bool { return len(s.fields) == 0 }

// Strict reports whether invalid incoming values abort construction.
func (s *Schema) Strict() bool { return s.strict }

// Fields returns the declared field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Field returns the spec for a declared field.
func (s *Schema) Field(name string) (*FieldSpec, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Has reports whether the field may be read or written: every name on a
// free-form schema, declared names otherwise.
func (s *Schema) Has(name string) bool {
	if s.FreeForm() {
		return true
	}
	_, ok := s.fields[name]
	return ok
}

// Validators returns the validator chain declared for a field.
func (s *Schema) Validators(name string) []Validator {
	return s.validators[name]
}

// refTarget resolves the schema referenced by a field, performing the
// lazy name lookup if the target was declared as a string.
func (s *Schema) refTarget(name string) (*Schema, error) {
	f, ok := s.fields[name]
	if !ok || !f.Type.IsRef() {
		return nil, nil
	}
	if f.Type.schema != nil {
		return f.Type.schema, nil
	}
	if f.Type.target == SelfRef {
		return s, nil
	}
	if s.registry == nil {
		return nil, schemaErr("%s.%s: lazy reference %q cannot be resolved without a registry",
			s.name, name, f.Type.target)
	}
	target, ok := s.registry.Get(f.Type.target)
	if !ok {
		return nil, schemaErr("%s.%s: lazy reference target %q is not registered",
			s.name, name, f.Type.target)
	}
	return target, nil
}

// Objects returns the base query for records of this schema in the
// given storage. Validators that carry query conditions (for example
// Exists or Equals) narrow the query so that only records conforming
// to the schema are matched.
func (s *Schema) Objects(st Storage) *Query {
	q := NewQuery(st, s)
	for _, name := range s.order {
		for _, v := range s.validators[name] {
			if f, ok := v.(QueryFilter); ok {
				q = f.FilterQuery(q, name)
			}
		}
	}
	return q
}
