package matching

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neithere/doqu/doqu"
)

// RegisterLookups fills a registry with the scanning vocabulary. Every
// operator autonegates: the predicate inverts under WhereNot, except
// that records missing the field never match either way. Only exists
// sees absent fields.
func RegisterLookups(r *doqu.LookupRegistry) error {
	register := func(op doqu.Op, dflt bool, build func(value any) (func(v any) bool, error)) error {
		return r.Register(op, func(field string, value any, enc doqu.ValueEncoder, negate bool) ([]any, error) {
			encoded, err := enc(value)
			if err != nil {
				return nil, err
			}
			test, err := build(encoded)
			if err != nil {
				return nil, err
			}
			p := Predicate(func(record map[string]any) bool {
				v, present := record[field]
				if !present {
					return false
				}
				return test(v) != negate
			})
			return []any{p}, nil
		}, dflt)
	}

	steps := []func() error{
		func() error {
			return register(doqu.OpEquals, true, func(value any) (func(v any) bool, error) {
				return func(v any) bool { return Equal(v, value) }, nil
			})
		},
		func() error { return registerCompare(register, doqu.OpGt, func(c int) bool { return c > 0 }) },
		func() error { return registerCompare(register, doqu.OpGte, func(c int) bool { return c >= 0 }) },
		func() error { return registerCompare(register, doqu.OpLt, func(c int) bool { return c < 0 }) },
		func() error { return registerCompare(register, doqu.OpLte, func(c int) bool { return c <= 0 }) },
		func() error {
			return register(doqu.OpIn, false, func(value any) (func(v any) bool, error) {
				choices, err := asList(value, doqu.OpIn)
				if err != nil {
					return nil, err
				}
				return func(v any) bool {
					for _, choice := range choices {
						if Equal(v, choice) {
							return true
						}
					}
					return false
				}, nil
			})
		},
		func() error {
			return register(doqu.OpContains, false, func(value any) (func(v any) bool, error) {
				return func(v any) bool { return containsOne(v, value) }, nil
			})
		},
		func() error {
			return register(doqu.OpContainsAny, false, func(value any) (func(v any) bool, error) {
				choices, err := asList(value, doqu.OpContainsAny)
				if err != nil {
					return nil, err
				}
				return func(v any) bool {
					for _, choice := range choices {
						if containsOne(v, choice) {
							return true
						}
					}
					return false
				}, nil
			})
		},
		func() error {
			return register(doqu.OpStartswith, false, func(value any) (func(v any) bool, error) {
				prefix, err := asString(value, doqu.OpStartswith)
				if err != nil {
					return nil, err
				}
				return func(v any) bool {
					s, ok := v.(string)
					return ok && strings.HasPrefix(s, prefix)
				}, nil
			})
		},
		func() error {
			return register(doqu.OpEndswith, false, func(value any) (func(v any) bool, error) {
				suffix, err := asString(value, doqu.OpEndswith)
				if err != nil {
					return nil, err
				}
				return func(v any) bool {
					s, ok := v.(string)
					return ok && strings.HasSuffix(s, suffix)
				}, nil
			})
		},
		func() error {
			return register(doqu.OpMatches, false, func(value any) (func(v any) bool, error) {
				pattern, err := asString(value, doqu.OpMatches)
				if err != nil {
					return nil, err
				}
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, err
				}
				return func(v any) bool {
					s, ok := v.(string)
					return ok && re.MatchString(s)
				}, nil
			})
		},
		func() error { return registerDatePart(register, doqu.OpYear, func(y, m, d int) int { return y }) },
		func() error { return registerDatePart(register, doqu.OpMonth, func(y, m, d int) int { return m }) },
		func() error { return registerDatePart(register, doqu.OpDay, func(y, m, d int) int { return d }) },
		func() error {
			// exists is the one operator that must see absent fields
			return r.Register(doqu.OpExists, func(field string, value any, enc doqu.ValueEncoder, negate bool) ([]any, error) {
				want := true
				if b, ok := value.(bool); ok {
					want = b
				}
				if negate {
					want = !want
				}
				p := Predicate(func(record map[string]any) bool {
					_, present := record[field]
					return present == want
				})
				return []any{p}, nil
			}, false)
		},
		r.RegisterBetween,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

type registerFunc func(op doqu.Op, dflt bool, build func(value any) (func(v any) bool, error)) error

func registerCompare(register registerFunc, op doqu.Op, accept func(c int) bool) error {
	return register(op, false, func(value any) (func(v any) bool, error) {
		return func(v any) bool {
			c, ok := Compare(v, value)
			return ok && accept(c)
		}, nil
	})
}

func registerDatePart(register registerFunc, op doqu.Op, pick func(year, month, day int) int) error {
	return register(op, false, func(value any) (func(v any) bool, error) {
		want, ok := AsFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a number, got %T", doqu.ErrLookup, op, value)
		}
		return func(v any) bool {
			t, ok := AsTime(v)
			if !ok {
				return false
			}
			year, month, day := t.Date()
			return float64(pick(year, int(month), day)) == want
		}, nil
	})
}

func asList(value any, op doqu.Op) ([]any, error) {
	if list, ok := value.([]any); ok {
		return list, nil
	}
	return nil, fmt.Errorf("%w: %s expects a list, got %T", doqu.ErrLookup, op, value)
}

func asString(value any, op doqu.Op) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s expects a string, got %T", doqu.ErrLookup, op, value)
}

// containsOne is the single-needle containment test: substring for
// strings, element membership for lists.
func containsOne(v, needle any) bool {
	if s, ok := v.(string); ok {
		sub, ok := needle.(string)
		return ok && strings.Contains(s, sub)
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if Equal(item, needle) {
				return true
			}
		}
	}
	return false
}

// SortKeys orders record keys by the plan's ordering, left to right:
// the first key is primary, later keys break ties, the record key
// itself is the final tiebreak. Records missing an ordering field sort
// before those that have it.
func SortKeys(keys []string, records map[string]map[string]any, ordering []doqu.Order) {
	if len(ordering) == 0 {
		sort.Strings(keys)
		return
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := records[keys[i]], records[keys[j]]
		for _, o := range ordering {
			av, aok := a[o.Field]
			bv, bok := b[o.Field]
			if aok != bok {
				less := !aok
				if o.Desc {
					less = !less
				}
				return less
			}
			if !aok {
				continue
			}
			c, ok := Compare(av, bv)
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return keys[i] < keys[j]
	})
}
