// Package testutil provides helpers shared by storage and query tests:
// an instrumented storage wrapper and a canonical seeded dataset.
package testutil

import (
	"testing"

	"github.com/neithere/doqu/doqu"
	"github.com/neithere/doqu/doqu/ext/memory"
)

// CountingStore wraps a storage and counts calls to the backend
// primitives. Tests use it to assert fetch-once guarantees, e.g. that
// resolving the same reference twice hits the backend once.
type CountingStore struct {
	doqu.Storage
	Fetches int
	Saves   int
	Deletes int
	Queries int
}

// NewCountingStore returns a fresh in-memory storage behind a counter.
func NewCountingStore(t *testing.T) *CountingStore {
	t.Helper()
	st, err := memory.New()
	if err != nil {
		t.Fatalf("failed to open memory storage: %v", err)
	}
	return &CountingStore{Storage: st}
}

func (c *CountingStore) Fetch(key string) (map[string]any, error) {
	c.Fetches++
	return c.Storage.Fetch(key)
}

func (c *CountingStore) SaveRaw(data map[string]any, key string) (string, error) {
	c.Saves++
	return c.Storage.SaveRaw(data, key)
}

func (c *CountingStore) Delete(key string) error {
	c.Deletes++
	return c.Storage.Delete(key)
}

func (c *CountingStore) RunQuery(p doqu.Plan) (doqu.Cursor, error) {
	c.Queries++
	return c.Storage.RunQuery(p)
}

// Reset zeroes the counters without touching the data.
func (c *CountingStore) Reset() {
	c.Fetches, c.Saves, c.Deletes, c.Queries = 0, 0, 0, 0
}
