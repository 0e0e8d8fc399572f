// Package matching implements in-memory record matching and ordering
// for backends that store documents as plain maps and evaluate queries
// by scanning. The lookup vocabulary registered here is shared by the
// memory and flatfile adapters.
package matching

import (
	"reflect"
	"strings"
	"time"

	"github.com/neithere/doqu/doqu"
)

// Predicate is the native condition form for scanning backends: it
// inspects one raw record and reports whether it matches.
type Predicate func(record map[string]any) bool

// MatchAll reports whether a record satisfies every native fragment of
// a plan. Fragments that are not Predicates never match; they indicate
// a condition resolved for a different backend.
func MatchAll(p doqu.Plan, record map[string]any) bool {
	for _, frag := range p.Native {
		pred, ok := frag.(Predicate)
		if !ok {
			return false
		}
		if !pred(record) {
			return false
		}
	}
	return true
}

// AsFloat widens any numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// AsTime recognizes time values, both native and in the RFC 3339 form
// the flatfile backend persists.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Equal compares two values for equality, widening numerics so that
// int(3) equals float64(3) regardless of which side the backend
// deserialized. Lists and maps are compared element-wise.
func Equal(a, b any) bool {
	if af, ok := AsFloat(a); ok {
		bf, ok := AsFloat(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := AsTime(b)
		return ok && at.Equal(bt)
	}
	if bt, ok := b.(time.Time); ok {
		at, ok := AsTime(a)
		return ok && bt.Equal(at)
	}
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// Compare orders two values: -1, 0 or 1. The second result is false
// for incomparable pairs (mixed kinds, lists, maps).
func Compare(a, b any) (int, bool) {
	if af, ok := AsFloat(a); ok {
		bf, ok := AsFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if at, ok := AsTime(a); ok {
		if bt, ok := AsTime(b); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		switch {
		case !ab && bb:
			return -1, true
		case ab && !bb:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
