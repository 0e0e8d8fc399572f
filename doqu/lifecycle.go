package doqu

import "fmt"

// Save persists the document. The storage may be nil if the document
// was previously fetched from or saved to one; having neither is an
// error. The sequence is fixed: declared defaults fill empty fields,
// the document is fully validated, and only then are structural fields
// encoded — so a cascading save of an unsaved referenced document can
// never be triggered by a parent that fails its own validation.
//
// Encoded fields are merged into the prior raw snapshot, preserving
// record fields the schema does not declare. The existing primary key
// is kept only when saving back to the same storage; saving to a
// different one clears the key so the backend mints a fresh record.
// Returns the primary key reported by the backend.
func (d *Document) Save(st Storage) (string, error) {
	return d.save(st, false)
}

// SaveKeepingKey is Save but the primary key is preserved even when
// saving to a different storage. Existing unrelated records under that
// key are overwritten; it exists for copying record sets that
// reference each other by key.
func (d *Document) SaveKeepingKey(st Storage) (string, error) {
	return d.save(st, true)
}

func (d *Document) save(st Storage, keepKey bool) (string, error) {
	if st == nil {
		st = d.state.storage
	}
	if st == nil {
		return "", stateErr("cannot save %s: storage is defined neither on the instance nor as argument", d.schema.name)
	}

	if err := d.fillDefaults(); err != nil {
		return "", err
	}
	if err := d.Validate(); err != nil {
		return "", err
	}

	// Merge converted fields into the last raw record so undeclared
	// fields survive the round-trip.
	data := make(map[string]any, len(d.state.raw)+len(d.data))
	for k, v := range d.state.raw {
		data[k] = v
	}
	conv := st.Converters()
	encode := func(name string, value any, spec *FieldSpec) error {
		if spec != nil && spec.Outgoing != nil && value != nil {
			var err error
			if value, err = spec.Outgoing(value); err != nil {
				return fmt.Errorf("serializing %s.%s: %w", d.schema.name, name, err)
			}
		}
		encoded, err := conv.Encode(value, st)
		if err != nil {
			return fmt.Errorf("encoding %s.%s: %w", d.schema.name, name, err)
		}
		data[name] = encoded
		return nil
	}
	if !d.schema.FreeForm() {
		for _, name := range d.schema.Fields() {
			spec, _ := d.schema.Field(name)
			if err := encode(name, d.data[name], spec); err != nil {
				return "", err
			}
		}
	} else {
		for _, name := range sortedKeys(d.data) {
			if err := encode(name, d.data[name], nil); err != nil {
				return "", err
			}
		}
	}

	key := ""
	if keepKey || st == d.state.storage {
		key = d.state.key
	}
	newKey, err := st.SaveRaw(data, key)
	if err != nil {
		return "", err
	}
	if newKey == "" {
		return "", fmt.Errorf("storage returned an empty primary key for saved %s", d.schema.name)
	}
	logger().Debug("saved record", "schema", d.schema.Name(), "key", newKey)
	d.state.update(st, newKey, data)
	return newKey, nil
}

// SaveAs saves a deep clone of the document under the given key (empty
// for a backend-minted one), possibly in a different storage (nil for
// the document's own). The clone shares no state with the original;
// the original is untouched. Returns the clone.
func (d *Document) SaveAs(key string, st Storage) (*Document, error) {
	c := d.clone(nil)
	if st != nil {
		c.state.storage = st
	}
	c.state.key = key
	if _, err := c.save(nil, key != ""); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the record from the associated storage. The in-memory
// state is left as is: the caller decides whether the instance is
// still useful.
func (d *Document) Delete() error {
	if !d.state.Persisted() {
		return stateErr("cannot delete %s: not associated with a storage, or primary key is not defined", d.schema.name)
	}
	return d.state.storage.Delete(d.state.key)
}

// ConvertTo re-reads the document as an instance of another schema.
// A persisted document is re-fetched from the storage, so the new
// instance sees the full record validated against the other structure;
// a transient one is cloned instead. The key is preserved — both
// instances represent the same record, which is why neither is saved
// automatically. Overrides are applied afterwards, unvalidated until
// the next save.
func (d *Document) ConvertTo(other *Schema, overrides map[string]any) (*Document, error) {
	if other == nil {
		return nil, schemaErr("cannot convert %s to nil schema", d.schema.name)
	}
	var (
		out *Document
		err error
	)
	if d.state.Persisted() {
		out, err = Get(d.state.storage, other, d.state.key)
		if err != nil {
			return nil, err
		}
	} else {
		out = d.clone(other)
	}
	for _, name := range sortedKeys(overrides) {
		// Raw assignment: overrides may deliberately not validate yet.
		if !out.schema.Has(name) {
			return nil, schemaErr("%s has no field %q", other.name, name)
		}
		out.data[name] = overrides[name]
		delete(out.resolved, name)
	}
	return out, nil
}

// ReferencedBy returns a query over documents of the given schema
// whose field holds a reference to this document — the backward side
// of a reference field. The document must be persisted.
func (d *Document) ReferencedBy(schema *Schema, field string) (*Query, error) {
	if d.state.storage == nil {
		return nil, stateErr("cannot fetch referencing documents: storage is not defined")
	}
	if d.state.key == "" {
		return nil, stateErr("cannot fetch referencing documents: primary key is not defined")
	}
	return schema.Objects(d.state.storage).Where(Conds{field: d.state.key}), nil
}
