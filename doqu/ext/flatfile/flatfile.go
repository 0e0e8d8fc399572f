// Package flatfile implements storage in a single JSON file. The whole
// dataset lives in memory and is rewritten atomically on every
// mutation, with a cross-process file lock guarding the writes. Suited
// to small datasets, debugging and portable fixtures.
package flatfile

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/neithere/doqu/doqu"
	"github.com/neithere/doqu/internal/matching"
)

func init() {
	doqu.RegisterBackend("flatfile", func(settings doqu.Settings) (doqu.Storage, error) {
		path := settings.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("flatfile: settings require a path")
		}
		return New(path)
	})
}

const (
	lockTimeout    = 3 * time.Second
	lockMaxRetries = 3
	lockRetryDelay = 100 * time.Millisecond
)

type fileData struct {
	Records  map[string]map[string]any `json:"records"`
	Metadata fileMetadata              `json:"metadata"`
}

type fileMetadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps all records of one JSON file in memory. The in-process
// mutex serializes access to the map; the flock serializes file writes
// against other processes.
type Store struct {
	path     string
	fileLock *flock.Flock

	mu   sync.RWMutex
	data *fileData
	open bool

	converters *doqu.ConverterRegistry
	lookups    *doqu.LookupRegistry
}

// New opens (or initializes) the JSON file at path.
func New(path string) (*Store, error) {
	converters, err := newConverters()
	if err != nil {
		return nil, err
	}
	lookups := doqu.NewLookupRegistry()
	if err := matching.RegisterLookups(lookups); err != nil {
		return nil, err
	}
	s := &Store{
		path:       path,
		fileLock:   flock.New(path + ".lock"),
		converters: converters,
		lookups:    lookups,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// JSON keeps neither Go's integer widths nor its time type, so the
// codecs pin one representation per kind: integers travel as int64 and
// come back from float64, times as RFC 3339 strings, bytes as base64.
// Empty strings collapse to null so that "" and absent are one empty
// form.
func newConverters() (*doqu.ConverterRegistry, error) {
	r := doqu.NewConverterRegistry()

	type entry struct {
		kind  doqu.Kind
		codec doqu.Codec
	}
	entries := []entry{
		{doqu.KindString, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				if s, ok := value.(string); ok && s == "" {
					return nil, nil
				}
				return value, nil
			},
		}},
		{doqu.KindInt, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				n, ok := matching.AsFloat(value)
				if !ok {
					return nil, fmt.Errorf("flatfile: not an integer: %T", value)
				}
				return int64(n), nil
			},
			DecodeFunc: func(value any) (any, error) {
				n, ok := matching.AsFloat(value)
				if !ok {
					return nil, fmt.Errorf("flatfile: not an integer: %T", value)
				}
				return int64(n), nil
			},
		}},
		{doqu.KindFloat, doqu.CodecFuncs{
			DecodeFunc: func(value any) (any, error) {
				f, ok := matching.AsFloat(value)
				if !ok {
					return nil, fmt.Errorf("flatfile: not a number: %T", value)
				}
				return f, nil
			},
		}},
		{doqu.KindBool, doqu.NoopCodec},
		{doqu.KindTime, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				t, ok := value.(time.Time)
				if !ok {
					return nil, fmt.Errorf("flatfile: not a time: %T", value)
				}
				if t.IsZero() {
					return nil, nil
				}
				// normalize to UTC so the same instant encodes to the
				// same string regardless of the writer's zone
				return t.UTC().Format(time.RFC3339Nano), nil
			},
			DecodeFunc: func(value any) (any, error) {
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("flatfile: not a time string: %T", value)
				}
				return time.Parse(time.RFC3339Nano, s)
			},
		}},
		{doqu.KindBytes, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				b, ok := value.([]byte)
				if !ok {
					return nil, fmt.Errorf("flatfile: not bytes: %T", value)
				}
				return base64.StdEncoding.EncodeToString(b), nil
			},
			DecodeFunc: func(value any) (any, error) {
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("flatfile: not a bytes string: %T", value)
				}
				return base64.StdEncoding.DecodeString(s)
			},
		}},
		{doqu.KindList, doqu.NoopCodec},
		{doqu.KindMap, doqu.NoopCodec},
		{doqu.KindRef, doqu.RefCodec()},
		{doqu.KindManyRef, doqu.ManyRefCodec()},
	}
	for _, e := range entries {
		if err := r.Register(e.kind, e.codec); err != nil {
			return nil, err
		}
	}
	if err := r.RegisterFallback(doqu.NoopCodec); err != nil {
		return nil, err
	}
	return r, nil
}

// Connect loads the file, creating an empty dataset when it does not
// exist yet.
func (s *Store) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("flatfile: already connected")
	}
	if err := s.load(); err != nil {
		return err
	}
	s.open = true
	return nil
}

func (s *Store) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Store) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		now := time.Now()
		s.data = &fileData{
			Records:  make(map[string]map[string]any),
			Metadata: fileMetadata{Version: "1.0", CreatedAt: now, UpdatedAt: now},
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("flatfile: read %s: %w", s.path, err)
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("flatfile: parse %s: %w", s.path, err)
	}
	if data.Records == nil {
		data.Records = make(map[string]map[string]any)
	}
	s.data = &data
	return nil
}

func (s *Store) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("flatfile: acquire lock: %w", err)
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("flatfile: lock %s.lock: timed out", s.path)
}

// flush writes the dataset to disk under the file lock, atomically via
// a temp file rename. Callers hold the write mutex.
func (s *Store) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	s.data.Metadata.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("flatfile: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("flatfile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("flatfile: rename %s: %w", tmp, err)
	}
	return nil
}

func (s *Store) Contains(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.Records[key]
	return ok, nil
}

func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data.Records))
	for k := range s.data.Records {
		keys = append(keys, k)
	}
	matching.SortKeys(keys, s.data.Records, nil)
	return keys, nil
}

func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Records), nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Records = make(map[string]map[string]any)
	return s.flush()
}

func (s *Store) Fetch(key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.data.Records[key]
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
		if v == nil {
			continue // collapsed empties stay absent
		}
		record[k] = v
	}
	s.data.Records[key] = record
	if err := s.flush(); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Records[key]; !ok {
		return fmt.Errorf("%w: %q", doqu.ErrNotFound, key)
	}
	delete(s.data.Records, key)
	return s.flush()
}

func (s *Store) Converters() *doqu.ConverterRegistry { return s.converters }
func (s *Store) Lookups() *doqu.LookupRegistry       { return s.lookups }

func (s *Store) RunQuery(p doqu.Plan) (doqu.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, record := range s.data.Records {
		if matching.MatchAll(p, record) {
			keys = append(keys, key)
		}
	}
	matching.SortKeys(keys, s.data.Records, p.Ordering)
	return doqu.NewKeyCursor(keys), nil
}

func (s *Store) CountQuery(p doqu.Plan) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, record := range s.data.Records {
		if matching.MatchAll(p, record) {
			n++
		}
	}
	return n, nil
}
