package doqu

import "fmt"

// Storage is the contract a backend adapter implements. The core
// drives these primitives; everything above them — validation, type
// conversion, reference resolution, query translation and caching —
// lives here in the core and is identical across backends.
//
// All calls are blocking and synchronous. Safety of a shared
// connection under concurrent use is entirely the adapter's concern.
type Storage interface {
	// Connect opens the underlying connection or file. Calling Connect
	// on an open storage is an error; use Reconnect.
	Connect() error
	Disconnect() error

	// Contains reports whether a record with the key exists.
	Contains(key string) (bool, error)

	// Keys returns all primary keys.
	Keys() ([]string, error)

	// Len returns the number of records.
	Len() (int, error)

	// Clear removes all records and resets any key counters.
	Clear() error

	// Fetch returns the raw record for the key, or an error wrapping
	// ErrNotFound.
	Fetch(key string) (map[string]any, error)

	// SaveRaw stores an encoded record. An empty key asks the backend
	// to mint one. The returned key must be non-empty.
	SaveRaw(data map[string]any, key string) (string, error)

	// Delete removes the record with the key.
	Delete(key string) error

	// Converters returns the backend's type codec registry.
	Converters() *ConverterRegistry

	// Lookups returns the backend's operator registry.
	Lookups() *LookupRegistry

	// RunQuery executes a resolved plan and returns a cursor over the
	// primary keys of matching records, already ordered.
	RunQuery(p Plan) (Cursor, error)
}

// Counter is implemented by storages that can count matches natively,
// cheaper than materializing every record. Count results must agree
// with exhaustive iteration for the same plan.
type Counter interface {
	CountQuery(p Plan) (int, error)
}

// Cursor iterates primary keys produced by a query.
type Cursor interface {
	// Next returns the next key; ok is false when the cursor is
	// exhausted or failed (check Err).
	Next() (key string, ok bool)
	Err() error
	Close() error
}

// Reconnect gracefully closes and reopens a storage.
func Reconnect(st Storage) error {
	if err := st.Disconnect(); err != nil {
		return err
	}
	return st.Connect()
}

// keyCursor is a Cursor over an in-memory key slice; adapters whose
// native query mechanism produces a full key list can return one
// directly.
type keyCursor struct {
	keys []string
	pos  int
}

// NewKeyCursor wraps an already-materialized key list in a Cursor.
func NewKeyCursor(keys []string) Cursor { return &keyCursor{keys: keys} }

func (c *keyCursor) Next() (string, bool) {
	if c.pos >= len(c.keys) {
		return "", false
	}
	k := c.keys[c.pos]
	c.pos++
	return k, true
}

func (c *keyCursor) Err() error   { return nil }
func (c *keyCursor) Close() error { return nil }

// Get fetches the record under key and wraps it in a document of the
// given schema. Structural fields are decoded through the backend's
// converter registry (then through the field's incoming processor);
// raw fields the schema does not declare are retained verbatim in the
// saved state for round-tripping. Missing keys report ErrNotFound.
func Get(st Storage, schema *Schema, key string) (*Document, error) {
	logger().Debug("fetching record", "schema", schema.Name(), "key", key)
	raw, err := st.Fetch(key)
	if err != nil {
		return nil, err
	}
	return decorate(st, schema, key, raw)
}

// GetMany fetches documents for each key in order. Backends with a
// bulk fetch primitive may shadow this with something cheaper; the
// semantics stay one Get per key.
func GetMany(st Storage, schema *Schema, keys []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(keys))
	for _, key := range keys {
		doc, err := Get(st, schema, key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetOrCreate finds the first record matching the conditions or saves
// a new document built from them. The second result reports whether a
// record was created.
func GetOrCreate(st Storage, schema *Schema, conds Conds) (*Document, bool, error) {
	if len(conds) == 0 {
		return nil, false, stateErr("get-or-create requires at least one condition")
	}
	q := schema.Objects(st).Where(conds)
	n, err := q.Count()
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		doc, err := q.At(0)
		return doc, false, err
	}
	doc, err := New(schema, map[string]any(conds))
	if err != nil {
		return nil, false, err
	}
	if _, err := doc.Save(st); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// decorate builds a document instance out of a raw record and binds it
// to the storage and key.
func decorate(st Storage, schema *Schema, key string, raw map[string]any) (*Document, error) {
	values := make(map[string]any)
	if !schema.FreeForm() {
		conv := st.Converters()
		for _, name := range schema.Fields() {
			spec, _ := schema.Field(name)
			value, err := conv.Decode(spec.Type, raw[name])
			if err != nil {
				return nil, fmt.Errorf("decoding %s.%s of record %q: %w",
					schema.Name(), name, key, err)
			}
			if spec.Incoming != nil && value != nil {
				if value, err = spec.Incoming(value); err != nil {
					return nil, fmt.Errorf("deserializing %s.%s of record %q: %w",
						schema.Name(), name, key, err)
				}
			}
			if value != nil {
				values[name] = value
			}
		}
	} else {
		for k, v := range raw {
			values[k] = v
		}
	}
	doc, err := New(schema, values)
	if err != nil {
		return nil, err
	}
	doc.state.update(st, key, raw)
	return doc, nil
}
