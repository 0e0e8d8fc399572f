package doqu

import "strings"

// Op names a query operator. The vocabulary below is canonical across
// backends: an operator means the same thing everywhere it is
// supported, and a backend that cannot translate one simply does not
// register it.
type Op string

const (
	OpEquals      Op = "equals"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpIn          Op = "in"
	OpContains    Op = "contains"
	OpContainsAny Op = "contains_any"
	OpStartswith  Op = "startswith"
	OpEndswith    Op = "endswith"
	OpMatches     Op = "matches"
	OpExists      Op = "exists"
	OpBetween     Op = "between"
	OpYear        Op = "year"
	OpMonth       Op = "month"
	OpDay         Op = "day"
)

// ValueEncoder converts a lookup value through the same per-type codec
// used for storage, so conditions compare against exactly what save()
// wrote.
type ValueEncoder func(value any) (any, error)

// LookupFunc translates one abstract condition into backend-native
// predicate fragments. The native form is opaque to the core: a
// predicate closure for map-scanning backends, a WHERE fragment for
// SQL ones. A single condition may expand to several fragments, all
// AND-combined.
type LookupFunc func(field string, value any, enc ValueEncoder, negate bool) ([]any, error)

// LookupRegistry maps operator names to translators for one backend.
// Like converter registries, one is constructed per backend and
// injected into its adapter; duplicate registration is a hard error.
// Exactly one operator is the default, applied when a condition names
// no operator.
type LookupRegistry struct {
	ops map[Op]LookupFunc
	def Op
}

// NewLookupRegistry returns an empty registry.
func NewLookupRegistry() *LookupRegistry {
	return &LookupRegistry{ops: make(map[Op]LookupFunc)}
}

// Register adds a translator for an operator. Pass dflt for exactly
// one operator per backend; it handles plain field conditions.
func (r *LookupRegistry) Register(op Op, fn LookupFunc, dflt bool) error {
	if fn == nil {
		return lookupErr("cannot register nil processor for %q", op)
	}
	if _, exists := r.ops[op]; exists {
		return lookupErr("operator %q is already registered; unregister it first", op)
	}
	if dflt {
		if r.def != "" {
			return lookupErr("default operator is already %q", r.def)
		}
		r.def = op
	}
	r.ops[op] = fn
	return nil
}

// Unregister removes and returns the translator for an operator.
func (r *LookupRegistry) Unregister(op Op) (LookupFunc, error) {
	fn, exists := r.ops[op]
	if !exists {
		return nil, lookupErr("operator %q is not registered", op)
	}
	delete(r.ops, op)
	if r.def == op {
		r.def = ""
	}
	return fn, nil
}

// Supports reports whether the backend registered the operator.
func (r *LookupRegistry) Supports(op Op) bool {
	_, ok := r.ops[op]
	return ok
}

// Resolve translates one condition into native fragments. An empty op
// selects the backend's default operator.
func (r *LookupRegistry) Resolve(field string, op Op, value any, enc ValueEncoder, negate bool) ([]any, error) {
	if op == "" {
		op = r.def
		if op == "" {
			return nil, lookupErr("backend defines no default operator")
		}
	}
	fn, ok := r.ops[op]
	if !ok {
		return nil, lookupErr("backend does not support operator %q", op)
	}
	return fn(field, value, enc, negate)
}

// RegisterBetween registers the between meta-operator: the pair value
// (lo, hi) expands to gt(lo) and lt(hi), each resolved independently
// through the backend's own processors and AND-combined. Bounds are
// strict. Call it after gt and lt are registered.
func (r *LookupRegistry) RegisterBetween() error {
	if !r.Supports(OpGt) || !r.Supports(OpLt) {
		return lookupErr("between requires gt and lt to be registered")
	}
	return r.Register(OpBetween, func(field string, value any, enc ValueEncoder, negate bool) ([]any, error) {
		lo, hi, err := betweenBounds(value)
		if err != nil {
			return nil, err
		}
		low, err := r.Resolve(field, OpGt, lo, enc, negate)
		if err != nil {
			return nil, err
		}
		high, err := r.Resolve(field, OpLt, hi, enc, negate)
		if err != nil {
			return nil, err
		}
		return append(low, high...), nil
	}, false)
}

func betweenBounds(value any) (lo, hi any, err error) {
	switch v := value.(type) {
	case []any:
		if len(v) == 2 {
			return v[0], v[1], nil
		}
	case [2]any:
		return v[0], v[1], nil
	case [2]int:
		return v[0], v[1], nil
	}
	return nil, nil, lookupErr("between expects a (low, high) pair, got %T", value)
}

// parseCond splits a "field__operator" condition key. A key without an
// operator suffix selects the backend's default operator.
func parseCond(key string) (field string, op Op, err error) {
	if key == "" {
		return "", "", lookupErr("empty condition")
	}
	if i := strings.LastIndex(key, "__"); i > 0 {
		return key[:i], Op(key[i+2:]), nil
	}
	return key, "", nil
}
