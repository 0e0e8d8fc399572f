package doqu

import (
	"errors"
	"fmt"
	"testing"
)

func seedNumbers(t *testing.T, st *stubStorage, n int) *Schema {
	t.Helper()
	s := NewSchema("number").Field("value", Int()).MustBuild()
	for i := 0; i < n; i++ {
		doc := MustNew(s, map[string]any{"value": int64(i)})
		if _, err := doc.Save(st); err != nil {
			t.Fatalf("seeding failed at %d: %v", i, err)
		}
	}
	return s
}

func TestQueryImmutability(t *testing.T) {
	st := newStubStorage()
	s := seedNumbers(t, st, 10)

	base := NewQuery(st, s)
	narrowed := base.Where(Conds{"value__gt": int64(4)})
	narrower := narrowed.Where(Conds{"value__lt": int64(7)})

	for q, expected := range map[*Query]int{base: 10, narrowed: 5, narrower: 2} {
		n, err := q.Count()
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != expected {
			t.Errorf("expected %d matches, got %d", expected, n)
		}
	}
}

func TestQueryConditions(t *testing.T) {
	st := newStubStorage()
	s := seedNumbers(t, st, 10)

	t.Run("default operator is equality", func(t *testing.T) {
		n, err := NewQuery(st, s).Where(Conds{"value": int64(3)}).Count()
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("expected 1 match, got %d", n)
		}
	})

	t.Run("negation inverts matches but not absence", func(t *testing.T) {
		n, err := NewQuery(st, s).WhereNot(Conds{"value": int64(3)}).Count()
		if err != nil {
			t.Fatal(err)
		}
		if n != 9 {
			t.Errorf("expected 9 matches, got %d", n)
		}
	})

	t.Run("between expands to strict bounds", func(t *testing.T) {
		docs, err := NewQuery(st, s).Where(Conds{"value__between": []any{int64(2), int64(5)}}).All()
		if err != nil {
			t.Fatal(err)
		}
		seen := map[int64]bool{}
		for _, doc := range docs {
			v, _ := doc.Raw("value")
			seen[v.(int64)] = true
		}
		if len(seen) != 2 || !seen[3] || !seen[4] {
			t.Errorf("expected values {3 4}, got %v", seen)
		}
	})

	t.Run("condition order does not matter", func(t *testing.T) {
		a, err := NewQuery(st, s).Where(Conds{"value__gt": int64(1), "value__lt": int64(8)}).Count()
		if err != nil {
			t.Fatal(err)
		}
		b, err := NewQuery(st, s).Where(Conds{"value__lt": int64(8)}).Where(Conds{"value__gt": int64(1)}).Count()
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Errorf("same conditions, different counts: %d vs %d", a, b)
		}
	})

	t.Run("unsupported operator surfaces on use", func(t *testing.T) {
		q := NewQuery(st, s).Where(Conds{"value__matches": "x"})
		if _, err := q.Count(); !errors.Is(err, ErrLookup) {
			t.Fatalf("expected ErrLookup, got %v", err)
		}
	})

	t.Run("empty condition key surfaces on use", func(t *testing.T) {
		q := NewQuery(st, s).Where(Conds{"": 1})
		if _, err := q.All(); !errors.Is(err, ErrLookup) {
			t.Fatalf("expected ErrLookup, got %v", err)
		}
	})
}

func TestQueryMaterialization(t *testing.T) {
	st := newStubStorage()
	s := seedNumbers(t, st, 150)

	t.Run("results grow in chunks", func(t *testing.T) {
		q := NewQuery(st, s)
		if _, err := q.At(0); err != nil {
			t.Fatal(err)
		}
		res, err := q.Results()
		if err != nil {
			t.Fatal(err)
		}
		if res.Fetched() != defaultChunkSize {
			t.Errorf("expected one chunk (%d) cached, got %d", defaultChunkSize, res.Fetched())
		}
		if _, err := q.At(120); err != nil {
			t.Fatal(err)
		}
		if res.Fetched() != 150 {
			t.Errorf("expected full cache after crossing the chunk, got %d", res.Fetched())
		}
	})

	t.Run("one query never re-fetches", func(t *testing.T) {
		q := NewQuery(st, s)
		first, err := q.At(5)
		if err != nil {
			t.Fatal(err)
		}
		second, err := q.At(5)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Error("repeated access returned a different instance")
		}
	})

	t.Run("restart refreshes", func(t *testing.T) {
		q := NewQuery(st, s).Where(Conds{"value__lt": int64(3)})
		n, err := q.Len()
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Fatalf("expected 3, got %d", n)
		}
		extra := MustNew(s, map[string]any{"value": int64(1)})
		if _, err := extra.Save(st); err != nil {
			t.Fatal(err)
		}
		if n, _ := q.Len(); n != 3 {
			t.Errorf("materialized query must not see later writes, got %d", n)
		}
		q.Restart()
		if n, _ := q.Len(); n != 4 {
			t.Errorf("restarted query should see the new record, got %d", n)
		}
	})

	t.Run("index past the end", func(t *testing.T) {
		q := NewQuery(st, s).Where(Conds{"value": int64(0)})
		if _, err := q.At(5); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("expected ErrOutOfRange, got %v", err)
		}
		if _, err := q.At(-1); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("expected ErrOutOfRange for negative index, got %v", err)
		}
	})

	t.Run("one", func(t *testing.T) {
		doc, err := NewQuery(st, s).Where(Conds{"value": int64(7)}).One()
		if err != nil {
			t.Fatalf("single match failed: %v", err)
		}
		if v, _ := doc.Raw("value"); v != int64(7) {
			t.Errorf("wrong record: %v", v)
		}
		if _, err := NewQuery(st, s).Where(Conds{"value": int64(999)}).One(); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for zero matches, got %v", err)
		}
		if _, err := NewQuery(st, s).Where(Conds{"value__lt": int64(2)}).One(); !errors.Is(err, ErrState) {
			t.Errorf("expected ErrState for several matches, got %v", err)
		}
	})

	t.Run("count equals exhaustive length", func(t *testing.T) {
		q := NewQuery(st, s).Where(Conds{"value__gt": int64(99)})
		count, err := q.Count()
		if err != nil {
			t.Fatal(err)
		}
		length, err := q.Len()
		if err != nil {
			t.Fatal(err)
		}
		if count != length {
			t.Errorf("count %d disagrees with len %d", count, length)
		}
	})
}

func TestQueryValues(t *testing.T) {
	st := newStubStorage()
	s := NewSchema("entry").
		Field("category", String()).
		Field("tags", List()).
		MustBuild()
	for i, category := range []string{"a", "b", "a", "c", "b", "a"} {
		doc := MustNew(s, map[string]any{"category": category, "tags": []any{fmt.Sprintf("t%d", i)}})
		if _, err := doc.Save(st); err != nil {
			t.Fatal(err)
		}
	}

	values, err := NewQuery(st, s).Values("category")
	if err != nil {
		t.Fatalf("values failed: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("expected 3 distinct values, got %v", values)
	}

	// lists cannot be map keys and are skipped, not fatal
	if _, err := NewQuery(st, s).Values("tags"); err != nil {
		t.Errorf("non-comparable values should be skipped, got error %v", err)
	}
}

func TestQueryDelete(t *testing.T) {
	st := newStubStorage()
	s := seedNumbers(t, st, 10)

	if err := NewQuery(st, s).Where(Conds{"value__gt": int64(6)}).Delete(); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	n, err := NewQuery(st, s).Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("expected 7 surviving records, got %d", n)
	}
}

func TestExists(t *testing.T) {
	st := newStubStorage()
	s := seedNumbers(t, st, 3)

	ok, err := NewQuery(st, s).Where(Conds{"value": int64(1)}).Exists()
	if err != nil || !ok {
		t.Errorf("expected existing match, got %v (%v)", ok, err)
	}
	ok, err = NewQuery(st, s).Where(Conds{"value": int64(99)}).Exists()
	if err != nil || ok {
		t.Errorf("expected no match, got %v (%v)", ok, err)
	}
}
