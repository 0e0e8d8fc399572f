package doqu

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Conds is one set of AND-combined conditions, keyed by
// "field__operator" (a bare field name selects the backend's default
// operator, normally equals).
type Conds map[string]any

// Cond is one parsed condition.
type Cond struct {
	Field  string
	Op     Op
	Value  any
	Negate bool
}

// Order is one ordering key. Multi-key ordering is left-to-right:
// the first key is primary, later keys break ties.
type Order struct {
	Field string
	Desc  bool
}

// Plan is a fully translated query handed to the backend: native
// predicate fragments (AND-combined, backend-defined type) plus the
// ordering.
type Plan struct {
	Schema   *Schema
	Native   []any
	Ordering []Order
}

// Query is an immutable descriptor of conditions and ordering over one
// schema in one storage. Every Where, WhereNot and OrderBy returns a
// new query, so prior references stay stable and partially refined
// queries can be shared and branched freely.
//
// Execution is lazy: no backend call happens before the first
// materialization (All, At, Len, Count, Values, Delete). Materialized
// results accumulate in a chunked cache owned by the query, so
// repeated access through one query never re-issues the fetch; Restart
// produces a fresh materialization instead.
type Query struct {
	storage  Storage
	schema   *Schema
	conds    []Cond
	ordering []Order
	chunk    int

	res *Results // memoized materialization
	err error    // first condition-building error, surfaced on use
}

// NewQuery returns the unfiltered query over a schema's records.
// Schema.Objects is usually preferable: it narrows the query by the
// schema's own validators.
func NewQuery(st Storage, schema *Schema) *Query {
	return &Query{storage: st, schema: schema, chunk: defaultChunkSize}
}

func (q *Query) clone() *Query {
	c := &Query{
		storage: q.storage,
		schema:  q.schema,
		chunk:   q.chunk,
		err:     q.err,
	}
	c.conds = append(c.conds, q.conds...)
	c.ordering = append(c.ordering, q.ordering...)
	return c
}

func (q *Query) where(conds Conds, negate bool) *Query {
	c := q.clone()
	if c.err != nil {
		return c
	}
	// map order must not matter: conditions are AND-combined, so a
	// stable order only keeps plans reproducible
	for _, key := range sortedKeys(conds) {
		field, op, err := parseCond(key)
		if err != nil {
			c.err = err
			return c
		}
		c.conds = append(c.conds, Cond{Field: field, Op: op, Value: conds[key], Negate: negate})
	}
	return c
}

// Where returns a new query additionally filtered by the conditions.
func (q *Query) Where(conds Conds) *Query { return q.where(conds, false) }

// WhereNot is the negated Where.
func (q *Query) WhereNot(conds Conds) *Query { return q.where(conds, true) }

// OrderBy returns a new query ordered by the given fields, replacing
// any previous ordering. A "-" prefix reverses a field. Backends
// without multi-key sort accept a single field only.
func (q *Query) OrderBy(fields ...string) *Query {
	c := q.clone()
	if c.err != nil {
		return c
	}
	c.ordering = nil
	for _, f := range fields {
		if name, ok := strings.CutPrefix(f, "-"); ok {
			c.ordering = append(c.ordering, Order{Field: name, Desc: true})
		} else {
			c.ordering = append(c.ordering, Order{Field: f, Desc: false})
		}
	}
	return c
}

// ChunkSize returns a new query whose result cache grows in chunks of
// n records.
func (q *Query) ChunkSize(n int) *Query {
	c := q.clone()
	if n > 0 {
		c.chunk = n
	}
	return c
}

// Plan resolves the conditions into the backend's native form. Lookup
// values pass through the backend's converter registry, so conditions
// compare against exactly the representation Save wrote.
func (q *Query) Plan() (Plan, error) {
	if q.err != nil {
		return Plan{}, q.err
	}
	enc := func(v any) (any, error) {
		return q.storage.Converters().Encode(v, q.storage)
	}
	lookups := q.storage.Lookups()
	var native []any
	for _, c := range q.conds {
		frags, err := lookups.Resolve(c.Field, c.Op, c.Value, enc, c.Negate)
		if err != nil {
			return Plan{}, err
		}
		native = append(native, frags...)
	}
	return Plan{Schema: q.schema, Native: native, Ordering: append([]Order(nil), q.ordering...)}, nil
}

// Results returns the query's materialization, creating it on first
// use. The same Results is handed out until Restart.
func (q *Query) Results() (*Results, error) {
	if q.res != nil {
		return q.res, nil
	}
	p, err := q.Plan()
	if err != nil {
		return nil, err
	}
	cursor, err := q.storage.RunQuery(p)
	if err != nil {
		return nil, err
	}
	q.res = newResults(q.storage, q.schema, cursor, q.chunk)
	return q.res, nil
}

// Restart drops the cached materialization; the next access re-runs
// the query against the backend.
func (q *Query) Restart() {
	if q.res != nil {
		_ = q.res.Close()
		q.res = nil
	}
}

// All materializes and returns every matching document.
func (q *Query) All() ([]*Document, error) {
	res, err := q.Results()
	if err != nil {
		return nil, err
	}
	return res.All()
}

// At returns the i-th matching document, growing the result cache just
// far enough to cover i.
func (q *Query) At(i int) (*Document, error) {
	res, err := q.Results()
	if err != nil {
		return nil, err
	}
	return res.At(i)
}

// One returns the single matching document: ErrNotFound when there is
// none, an error when there are several.
func (q *Query) One() (*Document, error) {
	res, err := q.Results()
	if err != nil {
		return nil, err
	}
	first, err := res.At(0)
	if errors.Is(err, ErrOutOfRange) {
		return nil, fmt.Errorf("%w: query matched no records", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if _, err := res.At(1); err == nil {
		return nil, stateErr("query matched more than one record")
	}
	return first, nil
}

// Len materializes everything and returns the exhaustive length.
func (q *Query) Len() (int, error) {
	res, err := q.Results()
	if err != nil {
		return 0, err
	}
	return res.Len()
}

// Count returns the number of matching records. A backend advertising
// native counting (the Counter interface) answers without
// materializing documents; otherwise Count degrades to Len. Both agree
// for the same conditions.
func (q *Query) Count() (int, error) {
	if counter, ok := q.storage.(Counter); ok {
		p, err := q.Plan()
		if err != nil {
			return 0, err
		}
		return counter.CountQuery(p)
	}
	return q.Len()
}

// Exists reports whether at least one record matches.
func (q *Query) Exists() (bool, error) {
	n, err := q.Count()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Values returns the distinct values of one field across matching
// documents, in the decoded domain, first-seen order. Values that
// cannot be map keys (slices, maps) are silently skipped.
func (q *Query) Values(field string) ([]any, error) {
	res, err := q.Results()
	if err != nil {
		return nil, err
	}
	docs, err := res.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[any]struct{})
	var out []any
	for _, doc := range docs {
		value, err := doc.Raw(field)
		if err != nil || value == nil {
			continue
		}
		if !reflect.TypeOf(value).Comparable() {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out, nil
}

// Delete removes every matching record, one delete per key. This is
// not transactional: a failure mid-loop leaves the earlier deletions
// in place and reports the key that failed.
func (q *Query) Delete() error {
	p, err := q.Plan()
	if err != nil {
		return err
	}
	cursor, err := q.storage.RunQuery(p)
	if err != nil {
		return err
	}
	defer func() { _ = cursor.Close() }()
	for {
		key, ok := cursor.Next()
		if !ok {
			break
		}
		if err := q.storage.Delete(key); err != nil {
			return err
		}
	}
	return cursor.Err()
}
