package doqu

import "fmt"

// SchemaBuilder assembles a Schema. It is invoked once per document
// type; inheritance is an explicit ordered merge over parent schemas
// rather than implicit base-class traversal, so the effective metadata
// of a schema is always inspectable.
//
//	note, err := doqu.NewSchema("note").
//		Field("text", doqu.String(), doqu.Required()).
//		Field("is_note", doqu.Bool(), doqu.WithDefault(true)).
//		Build()
//
// Builder methods record the first error and Build reports it, so call
// chains need no intermediate error checks.
type SchemaBuilder struct {
	schema *Schema
	err    error
}

// NewSchema starts building a schema with the given name.
func NewSchema(name string) *SchemaBuilder {
	return &SchemaBuilder{
		schema: &Schema{
			name:       name,
			fields:     make(map[string]*FieldSpec),
			validators: make(map[string][]Validator),
		},
	}
}

func (b *SchemaBuilder) fail(format string, args ...any) *SchemaBuilder {
	if b.err == nil {
		b.err = schemaErr(format, args...)
	}
	return b
}

// Inherit merges the metadata of the given parent schemas into this
// one, leftmost parent first. Later parents override earlier ones, and
// fields declared on the builder afterwards override everything. Call
// it before declaring own fields.
func (b *SchemaBuilder) Inherit(parents ...*Schema) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	for _, p := range parents {
		if p == nil {
			return b.fail("%s: cannot inherit from nil schema", b.schema.name)
		}
		for _, name := range p.order {
			spec := *p.fields[name]
			b.putField(name, &spec)
		}
		for name, chain := range p.validators {
			b.schema.validators[name] = append([]Validator(nil), chain...)
		}
		if p.strict {
			b.schema.strict = true
		}
	}
	return b
}

func (b *SchemaBuilder) putField(name string, spec *FieldSpec) {
	if _, exists := b.schema.fields[name]; !exists {
		b.schema.order = append(b.schema.order, name)
	}
	b.schema.fields[name] = spec
}

// Field declares a field; a second declaration of the same name
// overrides the first (this is how inherited fields are refined). One
// declaration may contribute to structure, validators, defaults,
// labels and processors at once through the options.
func (b *SchemaBuilder) Field(name string, t FieldType, opts ...FieldOption) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	if name == "" {
		return b.fail("%s: field name must not be empty", b.schema.name)
	}
	spec := &FieldSpec{Name: name, Type: t}
	for _, opt := range opts {
		opt(spec)
	}
	b.putField(name, spec)

	// Field-level flags expand into the validators map so that one
	// declaration feeds all metadata maps.
	chain := b.schema.validators[name][:0:0]
	if spec.Essential {
		chain = append(chain, Exists())
	}
	if spec.Required {
		chain = append(chain, NotEmpty())
	}
	if len(spec.Choices) > 0 {
		chain = append(chain, AnyOf(spec.Choices...))
	}
	if len(chain) > 0 {
		b.schema.validators[name] = append(chain, b.schema.validators[name]...)
	}
	return b
}

// Validate appends validators to a field's chain. The field must be
// declared first unless the schema is free-form.
func (b *SchemaBuilder) Validate(name string, vs ...Validator) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	if len(b.schema.fields) > 0 {
		if _, ok := b.schema.fields[name]; !ok {
			return b.fail("%s: cannot validate undeclared field %q", b.schema.name, name)
		}
	}
	b.schema.validators[name] = append(b.schema.validators[name], vs...)
	return b
}

// Label sets the human-readable singular and plural labels.
func (b *SchemaBuilder) Label(singular, plural string) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	b.schema.label = singular
	b.schema.labelPlural = plural
	return b
}

// Strict makes construction reject invalid incoming values instead of
// leaving the offending field unset. Production schemas should be
// strict; the lenient default matches the behavior of fetching
// partially broken records for repair.
func (b *SchemaBuilder) Strict() *SchemaBuilder {
	if b.err != nil {
		return b
	}
	b.schema.strict = true
	return b
}

// In registers the schema in the given registry at Build time, making
// it available as a lazy reference target for other schemas.
func (b *SchemaBuilder) In(r *Registry) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	if r == nil {
		return b.fail("%s: nil registry", b.schema.name)
	}
	b.schema.registry = r
	return b
}

// Build finalizes the schema, registering it if a registry was given.
func (b *SchemaBuilder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.schema.registry != nil {
		if err := b.schema.registry.Register(b.schema); err != nil {
			return nil, err
		}
	}
	return b.schema, nil
}

// MustBuild is Build for schemas declared at program start, where a
// declaration error is a programming bug.
func (b *SchemaBuilder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("doqu: %v", err))
	}
	return s
}

// FieldOption configures a FieldSpec within a Field declaration.
type FieldOption func(*FieldSpec)

// Required adds a Required validator: the value must be present and
// non-empty.
func Required() FieldOption { return func(f *FieldSpec) { f.Required = true } }

// Essential adds an Exists validator: the field may be empty but must
// be present in the record. Affects the schema's base query.
func Essential() FieldOption { return func(f *FieldSpec) { f.Essential = true } }

// WithDefault sets the default filled in before save when the field is
// empty. A func() any or func(*Document) any value is called at fill
// time.
func WithDefault(v any) FieldOption { return func(f *FieldSpec) { f.Default = v } }

// WithLabel sets the human-readable field label.
func WithLabel(label string) FieldOption { return func(f *FieldSpec) { f.Label = label } }

// WithChoices restricts the field to the given values via an AnyOf
// validator.
func WithChoices(choices ...any) FieldOption {
	return func(f *FieldSpec) { f.Choices = choices }
}

// Serialized installs custom wire-format hooks: outgoing runs before
// the backend encode on save, incoming after the backend decode on
// fetch. Lookups against a serialized field match the wire form, not
// the in-memory one.
func Serialized(incoming, outgoing Processor) FieldOption {
	return func(f *FieldSpec) {
		f.Incoming = incoming
		f.Outgoing = outgoing
	}
}

// OnGet installs a processor applied to the value on every read.
func OnGet(p Processor) FieldOption { return func(f *FieldSpec) { f.OnGet = p } }

// OnSet installs a processor applied to the value before validation on
// every write.
func OnSet(p Processor) FieldOption { return func(f *FieldSpec) { f.OnSet = p } }
