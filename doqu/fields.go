package doqu

import (
	"fmt"
	"time"
)

// Kind identifies the declared data type of a field. Converter
// registries key their codecs by Kind, so a backend supports exactly
// the kinds it registered codecs for.
type Kind int

const (
	// KindAny accepts any value; used for free-form data.
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindBytes
	KindList
	KindMap
	// KindRef marks a single reference to another document. The stored
	// value is the referenced primary key.
	KindRef
	// KindManyRef marks a one-to-many reference. The stored value is a
	// list of primary keys.
	KindManyRef
)

var kindNames = map[Kind]string{
	KindAny:     "any",
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindTime:    "time",
	KindBytes:   "bytes",
	KindList:    "list",
	KindMap:     "map",
	KindRef:     "ref",
	KindManyRef: "many",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SelfRef is the lazy reference target naming the declaring schema
// itself, allowing recursive structures without a registry round-trip.
const SelfRef = "self"

// FieldType is the declared type of a field: a scalar kind, or a
// reference to another schema. Reference targets may be given directly
// or as a lazy name resolved through the schema's registry on first
// dereference, which keeps mutually-referencing schemas definable in
// any order.
type FieldType struct {
	Kind   Kind
	target string  // lazy target name, or SelfRef
	schema *Schema // direct target, when known at declaration time
}

// String declares a string field. Counterparts exist for the other
// scalar kinds.
func String() FieldType { return FieldType{Kind: KindString} }

func Int() FieldType      { return FieldType{Kind: KindInt} }
func Float() FieldType    { return FieldType{Kind: KindFloat} }
func Bool() FieldType     { return FieldType{Kind: KindBool} }
func Time() FieldType     { return FieldType{Kind: KindTime} }
func Bytes() FieldType    { return FieldType{Kind: KindBytes} }
func List() FieldType     { return FieldType{Kind: KindList} }
func Map() FieldType      { return FieldType{Kind: KindMap} }
func AnyValue() FieldType { return FieldType{Kind: KindAny} }

// Ref declares a single reference to a schema known at declaration time.
func Ref(target *Schema) FieldType {
	return FieldType{Kind: KindRef, schema: target}
}

// LazyRef declares a single reference to a schema by name. The name is
// resolved through the declaring schema's registry only when the field
// is first dereferenced. Use SelfRef for recursive references.
func LazyRef(name string) FieldType {
	return FieldType{Kind: KindRef, target: name}
}

// Many declares a one-to-many reference: the stored value is a list of
// primary keys, each resolved to a document on access.
func Many(target *Schema) FieldType {
	return FieldType{Kind: KindManyRef, schema: target}
}

// LazyMany is the lazily-named counterpart of Many.
func LazyMany(name string) FieldType {
	return FieldType{Kind: KindManyRef, target: name}
}

// IsRef reports whether the field holds a reference (single or list).
func (t FieldType) IsRef() bool {
	return t.Kind == KindRef || t.Kind == KindManyRef
}

// Processor transforms a single field value. Processors hook into the
// get/set path and into the serialization boundary (incoming runs after
// the backend decode, outgoing before the backend encode).
type Processor func(value any) (any, error)

// FieldSpec describes one declared field. Specs are built by the
// SchemaBuilder and owned by their Schema afterwards.
type FieldSpec struct {
	Name      string
	Type      FieldType
	Required  bool
	Essential bool
	Default   any // plain value, func() any, or func(*Document) any
	Label     string
	Choices   []any

	// Serialization hooks, e.g. for fields persisted in a custom wire
	// format the backend knows nothing about.
	Incoming Processor
	Outgoing Processor

	// Access hooks applied on Get/Set, before validation.
	OnGet Processor
	OnSet Processor
}

// KindOf maps a Go value to the Kind a converter registry dispatches
// on when encoding. Unrecognized values report KindAny so that a
// backend's fallback codec (if any) can catch them.
func KindOf(value any) Kind {
	switch value.(type) {
	case nil:
		return KindAny
	case string:
		return KindString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	case []byte:
		return KindBytes
	case []any:
		return KindList
	case map[string]any:
		return KindMap
	case *Document:
		return KindRef
	case []*Document:
		return KindManyRef
	default:
		return KindAny
	}
}
