package doqu

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Document wraps one logical record under an optional declared
// structure. It tracks its association with a storage and primary key
// (the SavedState) and drives validation on every write.
//
// A document moves through three states: transient (no storage, no
// key), bound (storage known, key stale) and persisted (storage, key
// and raw snapshot consistent). Only Get, Save and SaveAs move a
// document towards persisted.
type Document struct {
	schema *Schema
	data   map[string]any

	// resolved memoizes dereferenced reference fields by name, kept
	// apart from data so "already resolved" is an inspectable property
	// rather than a mutation of the canonical values.
	resolved map[string]any

	state *SavedState
}

// New constructs a transient document, assigning the given values
// through the same validated setter path used for later mutation.
// Unknown fields always fail on a structured schema. A value failing
// validation fails construction on a strict schema and is silently
// left unset on a lenient one.
func New(schema *Schema, values map[string]any) (*Document, error) {
	if schema == nil {
		return nil, schemaErr("nil schema")
	}
	d := &Document{
		schema:   schema,
		data:     make(map[string]any),
		resolved: make(map[string]any),
		state:    &SavedState{},
	}
	for _, name := range sortedKeys(values) {
		if err := d.Set(name, values[name]); err != nil {
			if errors.Is(err, ErrValidation) && !schema.strict {
				continue
			}
			return nil, err
		}
	}
	return d, nil
}

// MustNew is New for fixed values where failure is a programming bug.
func MustNew(schema *Schema, values map[string]any) *Document {
	d, err := New(schema, values)
	if err != nil {
		panic(fmt.Sprintf("doqu: %v", err))
	}
	return d
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Schema returns the document's schema.
func (d *Document) Schema() *Schema { return d.schema }

// State returns the saved state for inspection.
func (d *Document) State() *SavedState { return d.state }

// PK returns the primary key, empty for unsaved documents.
func (d *Document) PK() string { return d.state.key }

// Get returns a field value. Reading an undeclared field on a
// structured schema fails with ErrSchema. Reference fields resolve
// lazily: the first read fetches the referenced document through the
// document's storage and memoizes it; later reads return the memoized
// instance without touching the storage.
func (d *Document) Get(name string) (any, error) {
	if !d.schema.Has(name) {
		return nil, schemaErr("%s has no field %q", d.schema.name, name)
	}
	value := d.data[name]
	if spec, ok := d.schema.Field(name); ok {
		if spec.OnGet != nil && value != nil {
			var err error
			if value, err = spec.OnGet(value); err != nil {
				return nil, err
			}
		}
		if spec.Type.IsRef() {
			return d.resolveRef(name, spec, value)
		}
	}
	return value, nil
}

// Raw returns the stored field value without reference resolution or
// get processors: for reference fields this is the primary key (or key
// list) as it sits in the data mapping.
func (d *Document) Raw(name string) (any, error) {
	if !d.schema.Has(name) {
		return nil, schemaErr("%s has no field %q", d.schema.name, name)
	}
	return d.data[name], nil
}

// Set assigns a field value through the set processor and full
// validation. Assigning an undeclared field on a structured schema
// fails with ErrSchema; a value failing validation fails with
// ErrValidation and leaves the document unchanged.
func (d *Document) Set(name string, value any) error {
	if !d.schema.Has(name) {
		return schemaErr("%s has no field %q", d.schema.name, name)
	}
	if spec, ok := d.schema.Field(name); ok && spec.OnSet != nil && value != nil {
		var err error
		if value, err = spec.OnSet(value); err != nil {
			return err
		}
	}
	if err := d.validateValue(name, value); err != nil {
		return err
	}
	d.data[name] = value
	delete(d.resolved, name)
	return nil
}

// Data returns a copy of the data mapping, references unresolved.
func (d *Document) Data() map[string]any {
	out := make(map[string]any, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}

// Resolved reports whether a reference field has been dereferenced.
func (d *Document) Resolved(name string) bool {
	_, ok := d.resolved[name]
	return ok
}

// Ref resolves a single-reference field to its document.
func (d *Document) Ref(name string) (*Document, error) {
	value, err := d.Get(name)
	if err != nil || value == nil {
		return nil, err
	}
	doc, ok := value.(*Document)
	if !ok {
		return nil, schemaErr("%s.%s is not a single reference field", d.schema.name, name)
	}
	return doc, nil
}

// RefList resolves a one-to-many field to its documents.
func (d *Document) RefList(name string) ([]*Document, error) {
	value, err := d.Get(name)
	if err != nil || value == nil {
		return nil, err
	}
	docs, ok := value.([]*Document)
	if !ok {
		return nil, schemaErr("%s.%s is not a one-to-many field", d.schema.name, name)
	}
	return docs, nil
}

func (d *Document) resolveRef(name string, spec *FieldSpec, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if cached, ok := d.resolved[name]; ok {
		return cached, nil
	}
	target, err := d.schema.refTarget(name)
	if err != nil {
		return nil, err
	}
	resolve := func(v any) (*Document, error) {
		if doc, ok := v.(*Document); ok {
			if doc.schema != target {
				return nil, schemaErr("%s.%s: expected %s instance, got %s",
					d.schema.name, name, target.name, doc.schema.name)
			}
			return doc, nil
		}
		key, ok := v.(string)
		if !ok {
			return nil, validationErr("%s.%s: reference value must be a key or document, got %T",
				d.schema.name, name, v)
		}
		if d.state.storage == nil {
			return nil, stateErr("cannot resolve lazy reference %s.%s to %s: storage is not defined",
				d.schema.name, name, target.name)
		}
		return Get(d.state.storage, target, key)
	}

	var out any
	if spec.Type.Kind == KindManyRef {
		keys, err := refKeyList(value)
		if err != nil {
			return nil, validationErr("%s.%s: %v", d.schema.name, name, err)
		}
		docs := make([]*Document, 0, len(keys))
		for _, k := range keys {
			doc, err := resolve(k)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		out = docs
	} else {
		doc, err := resolve(value)
		if err != nil {
			return nil, err
		}
		out = doc
	}
	d.resolved[name] = out
	return out, nil
}

func refKeyList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []*Document:
		out := make([]any, len(v))
		for i, doc := range v {
			out[i] = doc
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of keys, got %T", value)
}

// Validate checks the document against the declared structure and the
// custom validator chains. Every declared field is checked, absent ones
// as nil, so Required fires on missing values; Save fills defaults
// before validating. Free-form documents check whatever data they hold.
func (d *Document) Validate() error {
	if d.schema.FreeForm() {
		for _, name := range sortedKeys(d.data) {
			if err := d.validateValue(name, d.data[name]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range d.schema.Fields() {
		if err := d.validateValue(name, d.data[name]); err != nil {
			return err
		}
	}
	return nil
}

// IsValid reports whether Validate passes.
func (d *Document) IsValid() bool { return d.Validate() == nil }

func (d *Document) validateValue(name string, value any) error {
	if err := d.validateValueType(name, value); err != nil {
		return err
	}
	for _, v := range d.schema.Validators(name) {
		err := v.Validate(d, value)
		if err == nil {
			continue
		}
		if errors.Is(err, StopValidation) {
			break
		}
		return fmt.Errorf("%w: value %v is invalid for %s.%s (%s)",
			ErrValidation, value, d.schema.name, name, describeValidator(v))
	}
	return nil
}

func (d *Document) validateValueType(name string, value any) error {
	if value == nil {
		return nil
	}
	spec, ok := d.schema.Field(name)
	if !ok {
		return nil
	}
	mismatch := func(want string) error {
		return validationErr("%s.%s: expected %s, got %T", d.schema.name, name, want, value)
	}
	switch spec.Type.Kind {
	case KindAny:
		return nil
	case KindString:
		if _, ok := value.(string); !ok {
			return mismatch("string")
		}
	case KindInt:
		switch value.(type) {
		case int, int8, int16, int32, int64:
		default:
			return mismatch("int")
		}
	case KindFloat:
		switch value.(type) {
		case float32, float64:
		default:
			return mismatch("float")
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return mismatch("bool")
		}
	case KindTime:
		if _, ok := value.(time.Time); !ok {
			return mismatch("time")
		}
	case KindBytes:
		if _, ok := value.([]byte); !ok {
			return mismatch("bytes")
		}
	case KindList:
		if reflect.ValueOf(value).Kind() != reflect.Slice {
			return mismatch("list")
		}
	case KindMap:
		if reflect.ValueOf(value).Kind() != reflect.Map {
			return mismatch("map")
		}
	case KindRef:
		// A string is the referenced primary key, the normal shape for
		// a record pulled from a database; resolution happens on read.
		switch value.(type) {
		case string, *Document:
		default:
			return mismatch("document or key")
		}
	case KindManyRef:
		if _, err := refKeyList(value); err != nil {
			return mismatch("list of documents or keys")
		}
	}
	return nil
}

// fillDefaults assigns declared defaults into fields that are
// currently nil or empty. Callable defaults are invoked at fill time:
// func(*Document) any receives the instance, func() any does not.
func (d *Document) fillDefaults() error {
	for _, name := range d.schema.Fields() {
		spec, _ := d.schema.Field(name)
		if spec.Default == nil {
			continue
		}
		if current := d.data[name]; !isEmpty(current) {
			continue
		}
		value := spec.Default
		switch fn := value.(type) {
		case func(*Document) any:
			value = fn(d)
		case func() any:
			value = fn()
		}
		if err := d.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both documents are persisted and represent the
// same record: same storage, same key. Field contents do not matter;
// unsaved documents are never equal to anything.
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	return d.state.equal(other.state)
}

// HashKey returns a stable identity string over (storage, key),
// suitable as a map key. Hashing an unsaved document is an error,
// which keeps half-baked instances out of sets and indexes.
func (d *Document) HashKey() (string, error) {
	if !d.state.Persisted() {
		return "", stateErr("document is unhashable: storage or primary key is not defined")
	}
	return fmt.Sprintf("%p/%s", d.state.storage, d.state.key), nil
}

// IsFieldChanged reports whether a field differs from the last raw
// snapshot. Every field of an unsaved document counts as changed.
func (d *Document) IsFieldChanged(name string) (bool, error) {
	if !d.schema.Has(name) {
		return false, schemaErr("%s has no field %q", d.schema.name, name)
	}
	if !d.state.Persisted() {
		return true, nil
	}
	return !reflect.DeepEqual(d.data[name], d.state.raw[name]), nil
}

// clone copies the structural values into a fresh instance of the
// given schema (or the document's own when nil). The saved state is
// cloned too; use SaveAs for an independent record.
func (d *Document) clone(as *Schema) *Document {
	schema := as
	if schema == nil {
		schema = d.schema
	}
	c := &Document{
		schema:   schema,
		data:     make(map[string]any),
		resolved: make(map[string]any),
		state:    &SavedState{},
	}
	fields := schema.Fields()
	if schema.FreeForm() {
		fields = sortedKeys(d.data)
	}
	for _, name := range fields {
		if value, ok := d.data[name]; ok {
			c.data[name] = deepCopyValue(value)
		}
	}
	if d.state.Bound() {
		c.state = d.state.clone()
	}
	return c
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []byte:
		return append([]byte(nil), v...)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopyValue(e)
		}
		return out
	default:
		return value
	}
}

// String renders the document for logs and debugging.
func (d *Document) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<%s", d.schema.name)
	if d.state.key != "" {
		fmt.Fprintf(&b, " %s", d.state.key)
	}
	b.WriteString(">")
	return b.String()
}
