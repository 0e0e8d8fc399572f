package testutil

import (
	"testing"
	"time"

	"github.com/neithere/doqu/doqu"
)

// Universe is the canonical dataset most query tests load: three
// authors and five books with enough variety of years, ratings and
// tags to exercise every operator. Field values are fixed; tests
// assert against them directly instead of re-creating data.
type Universe struct {
	Registry *doqu.Registry
	Author   *doqu.Schema
	Book     *doqu.Schema

	// primary keys by record, for direct Get calls
	Orwell  string
	Tolkien string
	Herbert string

	NineteenEightyFour string
	AnimalFarm         string
	Hobbit             string
	Lotr               string
	Dune               string
}

// NewSchemas builds the author and book schemas in a fresh registry.
func NewSchemas(t *testing.T) (*doqu.Registry, *doqu.Schema, *doqu.Schema) {
	t.Helper()
	registry := doqu.NewRegistry()

	author, err := doqu.NewSchema("author").
		Field("name", doqu.String(), doqu.Required()).
		Field("born", doqu.Int()).
		In(registry).
		Build()
	if err != nil {
		t.Fatalf("failed to build author schema: %v", err)
	}

	book, err := doqu.NewSchema("book").
		Field("title", doqu.String(), doqu.Required(), doqu.Essential()).
		Field("year", doqu.Int()).
		Field("rating", doqu.Float()).
		Field("tags", doqu.List()).
		Field("published", doqu.Time()).
		Field("author", doqu.LazyRef("author")).
		In(registry).
		Build()
	if err != nil {
		t.Fatalf("failed to build book schema: %v", err)
	}
	return registry, author, book
}

// LoadUniverse seeds the dataset into the given storage.
func LoadUniverse(t *testing.T, st doqu.Storage) *Universe {
	t.Helper()
	registry, author, book := NewSchemas(t)
	u := &Universe{Registry: registry, Author: author, Book: book}

	saveDoc := func(schema *doqu.Schema, values map[string]any) string {
		doc, err := doqu.New(schema, values)
		if err != nil {
			t.Fatalf("failed to build %s document: %v", schema.Name(), err)
		}
		key, err := doc.Save(st)
		if err != nil {
			t.Fatalf("failed to save %s document: %v", schema.Name(), err)
		}
		return key
	}

	u.Orwell = saveDoc(author, map[string]any{"name": "George Orwell", "born": int64(1903)})
	u.Tolkien = saveDoc(author, map[string]any{"name": "J. R. R. Tolkien", "born": int64(1892)})
	u.Herbert = saveDoc(author, map[string]any{"name": "Frank Herbert", "born": int64(1920)})

	u.NineteenEightyFour = saveDoc(book, map[string]any{
		"title":     "Nineteen Eighty-Four",
		"year":      int64(1949),
		"rating":    4.5,
		"tags":      []any{"dystopia", "classic"},
		"published": time.Date(1949, 6, 8, 0, 0, 0, 0, time.UTC),
		"author":    u.Orwell,
	})
	u.AnimalFarm = saveDoc(book, map[string]any{
		"title":     "Animal Farm",
		"year":      int64(1945),
		"rating":    4.1,
		"tags":      []any{"satire", "classic"},
		"published": time.Date(1945, 8, 17, 0, 0, 0, 0, time.UTC),
		"author":    u.Orwell,
	})
	u.Hobbit = saveDoc(book, map[string]any{
		"title":     "The Hobbit",
		"year":      int64(1937),
		"rating":    4.3,
		"tags":      []any{"fantasy"},
		"published": time.Date(1937, 9, 21, 0, 0, 0, 0, time.UTC),
		"author":    u.Tolkien,
	})
	u.Lotr = saveDoc(book, map[string]any{
		"title":     "The Lord of the Rings",
		"year":      int64(1954),
		"rating":    4.8,
		"tags":      []any{"fantasy", "classic"},
		"published": time.Date(1954, 7, 29, 0, 0, 0, 0, time.UTC),
		"author":    u.Tolkien,
	})
	u.Dune = saveDoc(book, map[string]any{
		"title":     "Dune",
		"year":      int64(1965),
		"rating":    4.6,
		"tags":      []any{"science fiction"},
		"published": time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC),
		"author":    u.Herbert,
	})
	return u
}

// Books returns the unfiltered book query.
func (u *Universe) Books(st doqu.Storage) *doqu.Query {
	return u.Book.Objects(st)
}
