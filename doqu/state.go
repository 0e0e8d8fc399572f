package doqu

// SavedState is a document's association with a storage and primary
// key, plus the last raw record as it went over the wire. The raw
// snapshot lets a structured document round-trip fields its schema
// does not declare.
//
// The storage reference is shared, never owned: many documents point
// at one storage adapter.
type SavedState struct {
	storage Storage
	key     string
	raw     map[string]any
}

// Storage returns the associated storage, or nil for a transient
// document.
func (s *SavedState) Storage() Storage { return s.storage }

// Key returns the primary key, empty for an unsaved document.
func (s *SavedState) Key() string { return s.key }

// Raw returns the last raw record snapshot (nil for unsaved documents).
// The map is the state's own; callers must not modify it.
func (s *SavedState) Raw() map[string]any { return s.raw }

// Bound reports whether any association exists at all (storage or key).
func (s *SavedState) Bound() bool { return s.storage != nil || s.key != "" }

// Persisted reports whether the document is fully associated with a
// record: both storage and key are known.
func (s *SavedState) Persisted() bool { return s.storage != nil && s.key != "" }

// equal: two states (and thus two documents) are equal only when both
// are persisted and share storage and key. Unsaved states never equal
// anything, including themselves.
func (s *SavedState) equal(o *SavedState) bool {
	if o == nil || !s.Persisted() || !o.Persisted() {
		return false
	}
	return s.storage == o.storage && s.key == o.key
}

// update merges non-empty values into the state. Empty arguments are
// ignored; resetting a state is done by replacing it, not by passing
// zero values here.
func (s *SavedState) update(st Storage, key string, raw map[string]any) {
	if st != nil {
		s.storage = st
	}
	if key != "" {
		s.key = key
	}
	if raw != nil {
		s.raw = make(map[string]any, len(raw))
		for k, v := range raw {
			s.raw[k] = v
		}
	}
}

// clone returns an independent copy sharing the storage reference.
func (s *SavedState) clone() *SavedState {
	c := &SavedState{storage: s.storage, key: s.key}
	if s.raw != nil {
		c.raw = make(map[string]any, len(s.raw))
		for k, v := range s.raw {
			c.raw[k] = v
		}
	}
	return c
}
