// Package sqlite implements storage in a SQLite database. Records are
// rows of a single table, the document body stored as JSON text;
// queries translate to WHERE clauses over json_extract, so filtering,
// ordering and counting all run inside the database.
package sqlite

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/neithere/doqu/doqu"
)

func init() {
	doqu.RegisterBackend("sqlite", func(settings doqu.Settings) (doqu.Storage, error) {
		path := settings.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("sqlite: settings require a path")
		}
		return New(path)
	})
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	key TEXT PRIMARY KEY,
	doc TEXT NOT NULL
)`

// Fragment is the native condition form: a WHERE clause fragment and
// its bind arguments. Fragments of one plan are AND-combined.
type Fragment struct {
	Expr string
	Args []any
}

// Store wraps one SQLite database. database/sql pools and serializes
// connections, so a Store is safe for concurrent use.
type Store struct {
	path string
	db   *sql.DB

	converters *doqu.ConverterRegistry
	lookups    *doqu.LookupRegistry
}

// New opens (or creates) the database at path.
func New(path string) (*Store, error) {
	converters, err := newConverters()
	if err != nil {
		return nil, err
	}
	lookups, err := newLookups()
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, converters: converters, lookups: lookups}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// The document body is JSON text, so the codecs match the flat-file
// conventions: integers as int64, times as RFC 3339 strings, bytes as
// base64, empty strings collapsed to null.
func newConverters() (*doqu.ConverterRegistry, error) {
	r := doqu.NewConverterRegistry()

	asInt := func(value any) (int64, error) {
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		}
		return 0, fmt.Errorf("sqlite: not an integer: %T", value)
	}

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
			EncodeFunc: func(value any, st doqu.Storage) (any, error) { return asInt(value) },
			DecodeFunc: func(value any) (any, error) { return asInt(value) },
		}},
		{doqu.KindFloat, doqu.CodecFuncs{
			DecodeFunc: func(value any) (any, error) {
				switch n := value.(type) {
				case float64:
					return n, nil
				case int64:
					return float64(n), nil
				}
				return nil, fmt.Errorf("sqlite: not a number: %T", value)
			},
		}},
		{doqu.KindBool, doqu.NoopCodec},
		{doqu.KindTime, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				t, ok := value.(time.Time)
				if !ok {
					return nil, fmt.Errorf("sqlite: not a time: %T", value)
				}
				if t.IsZero() {
					return nil, nil
				}
				return t.UTC().Format(time.RFC3339Nano), nil
			},
			DecodeFunc: func(value any) (any, error) {
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("sqlite: not a time string: %T", value)
				}
				return time.Parse(time.RFC3339Nano, s)
			},
		}},
		{doqu.KindBytes, doqu.CodecFuncs{
			EncodeFunc: func(value any, st doqu.Storage) (any, error) {
				b, ok := value.([]byte)
				if !ok {
					return nil, fmt.Errorf("sqlite: not bytes: %T", value)
				}
				return base64.StdEncoding.EncodeToString(b), nil
			},
			DecodeFunc: func(value any) (any, error) {
				s, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("sqlite: not a bytes string: %T", value)
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

// jsonPath builds the json_extract expression for a field. Field names
// come from schema declarations, not user input; quotes are stripped
// as a precaution since bind parameters cannot appear in paths.
func jsonPath(field string) string {
	field = strings.NewReplacer(`'`, ``, `"`, ``).Replace(field)
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

// The SQL vocabulary is a subset of the scanning one: regular
// expression matching and contains_any have no portable SQLite
// translation and stay unregistered, so queries using them fail
// loudly instead of approximating.
func newLookups() (*doqu.LookupRegistry, error) {
	r := doqu.NewLookupRegistry()

	// guarded wraps a test expression so that rows missing the field
	// never match, negated or not.
	guarded := func(field, expr string, negate bool, args ...any) []any {
		if negate {
			expr = fmt.Sprintf("NOT (%s)", expr)
		}
		return []any{Fragment{
			Expr: fmt.Sprintf("(%s IS NOT NULL AND %s)", jsonPath(field), expr),
			Args: args,
		}}
	}

	register := func(op doqu.Op, dflt bool, build func(field string, value any) (string, []any, error)) error {
		return r.Register(op, func(field string, value any, enc doqu.ValueEncoder, negate bool) ([]any, error) {
			encoded, err := enc(value)
			if err != nil {
				return nil, err
			}
			expr, args, err := build(field, encoded)
			if err != nil {
				return nil, err
			}
			return guarded(field, expr, negate, args...), nil
		}, dflt)
	}

	comparison := func(op doqu.Op, sqlOp string) func() error {
		return func() error {
			return register(op, op == doqu.OpEquals, func(field string, value any) (string, []any, error) {
				if value == nil {
					// comparing against the collapsed empty form never
					// matches; negation then selects present fields
					return "0", nil, nil
				}
				return fmt.Sprintf("%s %s ?", jsonPath(field), sqlOp), []any{value}, nil
			})
		}
	}

	steps := []func() error{
		comparison(doqu.OpEquals, "="),
		comparison(doqu.OpGt, ">"),
		comparison(doqu.OpGte, ">="),
		comparison(doqu.OpLt, "<"),
		comparison(doqu.OpLte, "<="),
		func() error {
			return register(doqu.OpIn, false, func(field string, value any) (string, []any, error) {
				choices, ok := value.([]any)
				if !ok {
					return "", nil, fmt.Errorf("%w: in expects a list, got %T", doqu.ErrLookup, value)
				}
				if len(choices) == 0 {
					return "0", nil, nil
				}
				marks := strings.TrimSuffix(strings.Repeat("?,", len(choices)), ",")
				return fmt.Sprintf("%s IN (%s)", jsonPath(field), marks), choices, nil
			})
		},
		func() error {
			return register(doqu.OpContains, false, func(field string, value any) (string, []any, error) {
				s, ok := value.(string)
				if !ok {
					return "", nil, fmt.Errorf("%w: contains expects a string, got %T", doqu.ErrLookup, value)
				}
				return fmt.Sprintf("%s LIKE ? ESCAPE '\\'", jsonPath(field)), []any{"%" + likeEscape(s) + "%"}, nil
			})
		},
		func() error {
			return register(doqu.OpStartswith, false, func(field string, value any) (string, []any, error) {
				s, ok := value.(string)
				if !ok {
					return "", nil, fmt.Errorf("%w: startswith expects a string, got %T", doqu.ErrLookup, value)
				}
				return fmt.Sprintf("%s LIKE ? ESCAPE '\\'", jsonPath(field)), []any{likeEscape(s) + "%"}, nil
			})
		},
		func() error {
			return register(doqu.OpEndswith, false, func(field string, value any) (string, []any, error) {
				s, ok := value.(string)
				if !ok {
					return "", nil, fmt.Errorf("%w: endswith expects a string, got %T", doqu.ErrLookup, value)
				}
				return fmt.Sprintf("%s LIKE ? ESCAPE '\\'", jsonPath(field)), []any{"%" + likeEscape(s)}, nil
			})
		},
		datePart(r, doqu.OpYear, "%Y"),
		datePart(r, doqu.OpMonth, "%m"),
		datePart(r, doqu.OpDay, "%d"),
		func() error {
			return r.Register(doqu.OpExists, func(field string, value any, enc doqu.ValueEncoder, negate bool) ([]any, error) {
				want := true
				if b, ok := value.(bool); ok {
					want = b
				}
				if negate {
					want = !want
				}
				cond := "IS NOT NULL"
				if !want {
					cond = "IS NULL"
				}
				return []any{Fragment{Expr: fmt.Sprintf("%s %s", jsonPath(field), cond)}}, nil
			}, false)
		},
		r.RegisterBetween,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func datePart(r *doqu.LookupRegistry, op doqu.Op, fmtSpec string) func() error {
	return func() error {
		return r.Register(op, func(field string, value any, enc doqu.ValueEncoder, negate bool) ([]any, error) {
			var want int64
			switch n := value.(type) {
			case int:
				want = int64(n)
			case int64:
				want = n
			default:
				return nil, fmt.Errorf("%w: %s expects a number, got %T", doqu.ErrLookup, op, value)
			}
			expr := fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER) = ?", fmtSpec, jsonPath(field))
			if negate {
				expr = fmt.Sprintf("NOT (%s)", expr)
			}
			return []any{Fragment{
				Expr: fmt.Sprintf("(%s IS NOT NULL AND %s)", jsonPath(field), expr),
				Args: []any{want},
			}}, nil
		}, false)
	}
}

func likeEscape(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) Connect() error {
	if s.db != nil {
		return fmt.Errorf("sqlite: already connected")
	}
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", s.path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) Disconnect() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Contains(key string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM records WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM records ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) Len() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM records`)
	return err
}

func (s *Store) Fetch(key string) (map[string]any, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM records WHERE key = ?`, key).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", doqu.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, fmt.Errorf("sqlite: corrupt record %q: %w", key, err)
	}
	return record, nil
}

func (s *Store) SaveRaw(data map[string]any, key string) (string, error) {
	if key == "" {
		key = uuid.NewString()
	}
	record := make(map[string]any, len(data))
	for k, v := range data {
		if v == nil {
			continue
		}
		record[k] = v
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal record: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO records (key, doc) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET doc = excluded.doc`, key, string(doc),
	); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Delete(key string) error {
	res, err := s.db.Exec(`DELETE FROM records WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", doqu.ErrNotFound, key)
	}
	return nil
}

func (s *Store) Converters() *doqu.ConverterRegistry { return s.converters }
func (s *Store) Lookups() *doqu.LookupRegistry       { return s.lookups }

func (s *Store) buildQuery(selectExpr string, p doqu.Plan) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectExpr)
	sb.WriteString(" FROM records")
	var args []any
	if len(p.Native) > 0 {
		var exprs []string
		for _, frag := range p.Native {
			f, ok := frag.(Fragment)
			if !ok {
				return "", nil, fmt.Errorf("sqlite: foreign condition fragment %T", frag)
			}
			exprs = append(exprs, f.Expr)
			args = append(args, f.Args...)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(exprs, " AND "))
	}
	return sb.String(), args, nil
}

func (s *Store) RunQuery(p doqu.Plan) (doqu.Cursor, error) {
	query, args, err := s.buildQuery("key", p)
	if err != nil {
		return nil, err
	}
	var order []string
	for _, o := range p.Ordering {
		dir := ""
		if o.Desc {
			dir = " DESC"
		}
		order = append(order, jsonPath(o.Field)+dir)
	}
	order = append(order, "key")
	query += " ORDER BY " + strings.Join(order, ", ")

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doqu.NewKeyCursor(keys), nil
}

func (s *Store) CountQuery(p doqu.Plan) (int, error) {
	query, args, err := s.buildQuery("COUNT(*)", p)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
