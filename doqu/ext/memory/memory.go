// Package memory implements a map-backed storage living entirely in
// the process. It persists nothing and exists for tests, prototyping
// and as the smallest complete adapter example: identity codecs, the
// full scanning lookup vocabulary, native counting.
package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/neithere/doqu/doqu"
	"github.com/neithere/doqu/internal/matching"
)

func init() {
	doqu.RegisterBackend("memory", func(settings doqu.Settings) (doqu.Storage, error) {
		return New()
	})
}

// Store holds records as raw maps keyed by primary key. Safe for
// concurrent use; reads share an RLock, writes take the write lock.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]any
	open    bool

	converters *doqu.ConverterRegistry
	lookups    *doqu.LookupRegistry
}

// New returns a connected empty store.
func New() (*Store, error) {
	converters := doqu.NewConverterRegistry()
	if err := converters.RegisterFallback(doqu.NoopCodec); err != nil {
		return nil, err
	}
	for _, k := range []doqu.Kind{
		doqu.KindString, doqu.KindInt, doqu.KindFloat, doqu.KindBool,
		doqu.KindTime, doqu.KindBytes, doqu.KindList, doqu.KindMap,
	} {
		if err := converters.Register(k, doqu.NoopCodec); err != nil {
			return nil, err
		}
	}
	if err := converters.Register(doqu.KindRef, doqu.RefCodec()); err != nil {
		return nil, err
	}
	if err := converters.Register(doqu.KindManyRef, doqu.ManyRefCodec()); err != nil {
		return nil, err
	}

	lookups := doqu.NewLookupRegistry()
	if err := matching.RegisterLookups(lookups); err != nil {
		return nil, err
	}

	s := &Store{converters: converters, lookups: lookups}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("memory: already connected")
	}
	if s.records == nil {
		s.records = make(map[string]map[string]any)
	}
	s.open = true
	return nil
}

// Disconnect marks the store closed. Records stay in memory, so a
// Reconnect sees them again.
func (s *Store) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Store) Contains(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	matching.SortKeys(keys, s.records, nil)
	return keys, nil
}

func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]map[string]any)
	return nil
}

func (s *Store) Fetch(key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", doqu.ErrNotFound, key)
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveRaw(data map[string]any, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		key = uuid.NewString()
	}
	record := make(map[string]any, len(data))
	for k, v := range data {
		record[k] = v
	}
	s.records[key] = record
	return key, nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("%w: %q", doqu.ErrNotFound, key)
	}
	delete(s.records, key)
	return nil
}

func (s *Store) Converters() *doqu.ConverterRegistry { return s.converters }
func (s *Store) Lookups() *doqu.LookupRegistry       { return s.lookups }

// RunQuery scans every record against the plan's predicates, orders
// the surviving keys and returns them as a cursor.
func (s *Store) RunQuery(p doqu.Plan) (doqu.Cursor, error) {
	keys, err := s.matchingKeys(p)
	if err != nil {
		return nil, err
	}
	return doqu.NewKeyCursor(keys), nil
}

// CountQuery counts matches without building documents.
func (s *Store) CountQuery(p doqu.Plan) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, record := range s.records {
		if matching.MatchAll(p, record) {
			n++
		}
	}
	return n, nil
}

func (s *Store) matchingKeys(p doqu.Plan) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, record := range s.records {
		if matching.MatchAll(p, record) {
			keys = append(keys, key)
		}
	}
	matching.SortKeys(keys, s.records, p.Ordering)
	return keys, nil
}
