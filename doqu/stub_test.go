package doqu

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// stubStorage is a minimal in-package backend for unit tests that need
// a Storage without importing an adapter: identity codecs, equality
// lookups, sequential keys, no ordering.
type stubStorage struct {
	records    map[string]map[string]any
	nextKey    int
	fetches    int // Fetch call counter, for memoization assertions
	converters *ConverterRegistry
	lookups    *LookupRegistry
}

type stubPredicate func(record map[string]any) bool

func newStubStorage() *stubStorage {
	converters := NewConverterRegistry()
	if err := converters.RegisterFallback(NoopCodec); err != nil {
		panic(err)
	}
	if err := converters.Register(KindRef, RefCodec()); err != nil {
		panic(err)
	}
	if err := converters.Register(KindManyRef, ManyRefCodec()); err != nil {
		panic(err)
	}

	lookups := NewLookupRegistry()
	register := func(op Op, dflt bool, test func(v, cond any) bool) {
		err := lookups.Register(op, func(field string, value any, enc ValueEncoder, negate bool) ([]any, error) {
			encoded, err := enc(value)
			if err != nil {
				return nil, err
			}
			p := stubPredicate(func(record map[string]any) bool {
				v, present := record[field]
				if !present {
					return false
				}
				return test(v, encoded) != negate
			})
			return []any{p}, nil
		}, dflt)
		if err != nil {
			panic(err)
		}
	}
	register(OpEquals, true, stubEqual)
	register(OpGt, false, func(v, cond any) bool { return stubLess(cond, v) })
	register(OpLt, false, func(v, cond any) bool { return stubLess(v, cond) })
	register(OpExists, false, func(v, cond any) bool { return true })
	if err := lookups.RegisterBetween(); err != nil {
		panic(err)
	}

	return &stubStorage{
		records:    make(map[string]map[string]any),
		converters: converters,
		lookups:    lookups,
	}
}

func stubEqual(v, cond any) bool {
	if v == nil || cond == nil {
		return v == cond
	}
	if !reflect.TypeOf(v).Comparable() || !reflect.TypeOf(cond).Comparable() {
		return reflect.DeepEqual(v, cond)
	}
	return v == cond
}

func stubLess(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	}
	return false
}

func (s *stubStorage) Connect() error    { return nil }
func (s *stubStorage) Disconnect() error { return nil }

func (s *stubStorage) Contains(key string) (bool, error) {
	_, ok := s.records[key]
	return ok, nil
}

func (s *stubStorage) Keys() ([]string, error) {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *stubStorage) Len() (int, error) { return len(s.records), nil }

func (s *stubStorage) Clear() error {
	s.records = make(map[string]map[string]any)
	return nil
}

func (s *stubStorage) Fetch(key string) (map[string]any, error) {
	s.fetches++
	record, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out, nil
}

func (s *stubStorage) SaveRaw(data map[string]any, key string) (string, error) {
	if key == "" {
		for {
			s.nextKey++
			key = strconv.Itoa(s.nextKey)
			if _, taken := s.records[key]; !taken {
				break
			}
		}
	}
	record := make(map[string]any, len(data))
	for k, v := range data {
		if v == nil {
			continue
		}
		record[k] = v
	}
	s.records[key] = record
	return key, nil
}

func (s *stubStorage) Delete(key string) error {
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	delete(s.records, key)
	return nil
}

func (s *stubStorage) Converters() *ConverterRegistry { return s.converters }
func (s *stubStorage) Lookups() *LookupRegistry       { return s.lookups }

func (s *stubStorage) RunQuery(p Plan) (Cursor, error) {
	var keys []string
	for key, record := range s.records {
		matched := true
		for _, frag := range p.Native {
			pred, ok := frag.(stubPredicate)
			if !ok || !pred(record) {
				matched = false
				break
			}
		}
		if matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return NewKeyCursor(keys), nil
}
