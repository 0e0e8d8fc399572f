package doqu

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Struct bridging. A tagged struct stands in for a hand-built schema:
//
//	type Note struct {
//		Title string    `doqu:"title,required"`
//		Text  string    `doqu:"text"`
//		Added time.Time `doqu:"added"`
//		Owner string    `doqu:"owner,ref=user"`
//	}
//
// SchemaOf derives a Schema from the tags, Marshal converts a struct
// value into a document, Unmarshal populates a struct from one. Tag
// options: required, essential, default=VALUE, ref=SCHEMA (single
// reference stored as the target's key), many=SCHEMA (key list). A
// field tagged "-" is skipped, as are untagged and unexported fields.

var timeType = reflect.TypeOf(time.Time{})

// SchemaOf builds a schema named name from the doqu tags of the
// prototype struct (a struct value or pointer to one). The schema is
// registered in reg when reg is non-nil; lazy ref targets require it.
func SchemaOf(name string, prototype any, reg *Registry) (*Schema, error) {
	typ := reflect.TypeOf(prototype)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, schemaErr("expected struct prototype, got %v", reflect.TypeOf(prototype))
	}

	b := NewSchema(name)
	if reg != nil {
		b = b.In(reg)
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag, ok := parseFieldTag(field)
		if !ok {
			continue
		}
		ft, err := fieldTypeFor(field.Type, tag)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		var opts []FieldOption
		if tag.required {
			opts = append(opts, Required())
		}
		if tag.essential {
			opts = append(opts, Essential())
		}
		if tag.defaultValue != "" {
			dflt, err := parseDefault(tag.defaultValue, ft.Kind)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			opts = append(opts, WithDefault(dflt))
		}
		b = b.Field(tag.name, ft, opts...)
	}
	return b.Build()
}

// MustSchemaOf is SchemaOf, panicking on error. Intended for
// package-level schema variables.
func MustSchemaOf(name string, prototype any, reg *Registry) *Schema {
	s, err := SchemaOf(name, prototype, reg)
	if err != nil {
		panic(err)
	}
	return s
}

// Marshal converts a tagged struct value into a document of the given
// schema. Zero values are skipped so that defaults and omitted
// optionals behave as if the field was never set; false and 0 survive
// only through explicit Set afterwards.
func Marshal(schema *Schema, v any) (*Document, error) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, schemaErr("expected struct, got %s", val.Kind())
	}

	typ := val.Type()
	values := make(map[string]any)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		if !fieldVal.CanInterface() {
			continue
		}
		tag, ok := parseFieldTag(field)
		if !ok {
			continue
		}
		if fieldVal.IsZero() {
			continue
		}
		values[tag.name] = normalizeValue(fieldVal)
	}
	return New(schema, values)
}

// Unmarshal populates a tagged struct from a document. Reference
// fields land either as the raw key (string field) or as the resolved
// document (*Document field, triggering a fetch).
func Unmarshal(doc *Document, v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return schemaErr("expected pointer to struct, got %s", val.Kind())
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return schemaErr("expected pointer to struct, got pointer to %s", val.Kind())
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		tag, ok := parseFieldTag(field)
		if !ok {
			continue
		}

		var value any
		var err error
		if spec, declared := doc.schema.Field(tag.name); declared && spec.Type.IsRef() && field.Type.Kind() == reflect.String {
			// keep the key, do not resolve
			value, err = doc.Raw(tag.name)
		} else {
			value, err = doc.Get(tag.name)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
		if value == nil {
			continue
		}
		if err := setStructField(fieldVal, value); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

type fieldTag struct {
	name         string
	required     bool
	essential    bool
	defaultValue string
	refTarget    string
	manyTarget   string
}

func parseFieldTag(field reflect.StructField) (fieldTag, bool) {
	raw := field.Tag.Get("doqu")
	if raw == "" || raw == "-" {
		return fieldTag{}, false
	}
	parts := strings.Split(raw, ",")
	tag := fieldTag{name: parts[0]}
	if tag.name == "" {
		tag.name = strings.ToLower(field.Name)
	}
	for _, part := range parts[1:] {
		switch {
		case part == "required":
			tag.required = true
		case part == "essential":
			tag.essential = true
		case strings.HasPrefix(part, "default="):
			tag.defaultValue = strings.TrimPrefix(part, "default=")
		case strings.HasPrefix(part, "ref="):
			tag.refTarget = strings.TrimPrefix(part, "ref=")
		case strings.HasPrefix(part, "many="):
			tag.manyTarget = strings.TrimPrefix(part, "many=")
		}
	}
	return tag, true
}

func fieldTypeFor(typ reflect.Type, tag fieldTag) (FieldType, error) {
	if tag.refTarget != "" {
		return LazyRef(tag.refTarget), nil
	}
	if tag.manyTarget != "" {
		return LazyMany(tag.manyTarget), nil
	}
	if typ == timeType {
		return Time(), nil
	}
	switch typ.Kind() {
	case reflect.String:
		return String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(), nil
	case reflect.Float32, reflect.Float64:
		return Float(), nil
	case reflect.Bool:
		return Bool(), nil
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return Bytes(), nil
		}
		return List(), nil
	case reflect.Map:
		return Map(), nil
	case reflect.Interface:
		return AnyValue(), nil
	default:
		return FieldType{}, schemaErr("unsupported field type %s", typ)
	}
}

func parseDefault(raw string, k Kind) (any, error) {
	switch k {
	case KindString:
		return raw, nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, schemaErr("bad int default %q", raw)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, schemaErr("bad float default %q", raw)
		}
		return f, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, schemaErr("bad bool default %q", raw)
		}
		return b, nil
	default:
		return nil, schemaErr("defaults unsupported for %s fields", k)
	}
}

// normalizeValue converts a struct field value into the document
// domain: integer widths collapse to int64, typed slices to []any.
func normalizeValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		if v.Type() == reflect.TypeOf([]*Document(nil)) {
			return v.Interface()
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = normalizeValue(v.Index(i))
		}
		return out
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return normalizeValue(v.Elem())
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return v.Interface()
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value())
		}
		return out
	default:
		return v.Interface()
	}
}

func setStructField(fieldVal reflect.Value, value any) error {
	val := reflect.ValueOf(value)
	typ := fieldVal.Type()
	if val.Type().AssignableTo(typ) {
		fieldVal.Set(val)
		return nil
	}
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch n := value.(type) {
		case int64:
			fieldVal.SetInt(n)
			return nil
		case int:
			fieldVal.SetInt(int64(n))
			return nil
		case float64:
			fieldVal.SetInt(int64(n))
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch n := value.(type) {
		case int64:
			fieldVal.SetUint(uint64(n))
			return nil
		case int:
			fieldVal.SetUint(uint64(n))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		switch n := value.(type) {
		case float64:
			fieldVal.SetFloat(n)
			return nil
		case int64:
			fieldVal.SetFloat(float64(n))
			return nil
		}
	case reflect.Slice:
		if list, ok := value.([]any); ok {
			if typ.Elem().Kind() == reflect.Interface {
				fieldVal.Set(reflect.ValueOf(list))
				return nil
			}
			out := reflect.MakeSlice(typ, len(list), len(list))
			for i, elem := range list {
				if err := setStructField(out.Index(i), elem); err != nil {
					return err
				}
			}
			fieldVal.Set(out)
			return nil
		}
	case reflect.String:
		if doc, ok := value.(*Document); ok {
			fieldVal.SetString(doc.PK())
			return nil
		}
	}
	return schemaErr("cannot assign %T to %s", value, typ)
}
