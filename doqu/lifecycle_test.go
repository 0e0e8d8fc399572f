package doqu

import (
	"errors"
	"testing"
)

func TestSave(t *testing.T) {
	t.Run("transient save requires a storage", func(t *testing.T) {
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		if _, err := doc.Save(nil); !errors.Is(err, ErrState) {
			t.Fatalf("expected ErrState, got %v", err)
		}
	})

	t.Run("save binds storage and key", func(t *testing.T) {
		st := newStubStorage()
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		key, err := doc.Save(st)
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if key == "" || doc.PK() != key {
			t.Errorf("expected bound key, got %q / %q", key, doc.PK())
		}
		if !doc.State().Persisted() {
			t.Error("saved document should be persisted")
		}
	})

	t.Run("resave keeps the key", func(t *testing.T) {
		st := newStubStorage()
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		key, err := doc.Save(st)
		if err != nil {
			t.Fatal(err)
		}
		if err := doc.Set("text", "y"); err != nil {
			t.Fatal(err)
		}
		again, err := doc.Save(nil) // storage remembered from first save
		if err != nil {
			t.Fatal(err)
		}
		if again != key {
			t.Errorf("resave minted a new key: %q -> %q", key, again)
		}
		if n, _ := st.Len(); n != 1 {
			t.Errorf("expected a single record, got %d", n)
		}
	})

	t.Run("invalid document does not reach the backend", func(t *testing.T) {
		st := newStubStorage()
		doc := MustNew(noteSchema(), nil) // required text missing
		if _, err := doc.Save(st); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if n, _ := st.Len(); n != 0 {
			t.Error("failed save must not write")
		}
	})

	t.Run("saving to another storage mints a new key", func(t *testing.T) {
		st1 := newStubStorage()
		st2 := newStubStorage()
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		key1, err := doc.Save(st1)
		if err != nil {
			t.Fatal(err)
		}
		// make key collision detectable: preoccupy the key in st2
		if _, err := st2.SaveRaw(map[string]any{"text": "occupied"}, key1); err != nil {
			t.Fatal(err)
		}
		key2, err := doc.Save(st2)
		if err != nil {
			t.Fatal(err)
		}
		if key2 == key1 {
			t.Error("cross-storage save reused the old key")
		}
		if record, err := st2.Fetch(key1); err != nil || record["text"] != "occupied" {
			t.Error("cross-storage save clobbered a foreign record")
		}
	})

	t.Run("undeclared raw fields survive the round trip", func(t *testing.T) {
		st := newStubStorage()
		key, err := st.SaveRaw(map[string]any{"text": "x", "legacy": "keep me"}, "")
		if err != nil {
			t.Fatal(err)
		}
		doc, err := Get(st, noteSchema(), key)
		if err != nil {
			t.Fatal(err)
		}
		if err := doc.Set("text", "edited"); err != nil {
			t.Fatal(err)
		}
		if _, err := doc.Save(nil); err != nil {
			t.Fatal(err)
		}
		record, err := st.Fetch(key)
		if err != nil {
			t.Fatal(err)
		}
		if record["legacy"] != "keep me" {
			t.Error("undeclared field lost on save")
		}
		if record["text"] != "edited" {
			t.Errorf("edit lost: %v", record["text"])
		}
	})
}

func TestSaveAs(t *testing.T) {
	st := newStubStorage()

	t.Run("clone is an independent record", func(t *testing.T) {
		doc := MustNew(noteSchema(), map[string]any{"text": "original"})
		if _, err := doc.Save(st); err != nil {
			t.Fatal(err)
		}
		clone, err := doc.SaveAs("", nil)
		if err != nil {
			t.Fatalf("save-as failed: %v", err)
		}
		if clone.PK() == doc.PK() {
			t.Fatal("clone shares the original's key")
		}
		if err := clone.Set("text", "diverged"); err != nil {
			t.Fatal(err)
		}
		if _, err := clone.Save(nil); err != nil {
			t.Fatal(err)
		}
		original, err := Get(st, noteSchema(), doc.PK())
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := original.Raw("text"); v != "original" {
			t.Errorf("mutating the clone touched the original: %v", v)
		}
	})

	t.Run("explicit key is honored", func(t *testing.T) {
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		if _, err := doc.Save(st); err != nil {
			t.Fatal(err)
		}
		clone, err := doc.SaveAs("chosen-key", nil)
		if err != nil {
			t.Fatal(err)
		}
		if clone.PK() != "chosen-key" {
			t.Errorf("expected key %q, got %q", "chosen-key", clone.PK())
		}
	})

	t.Run("copies into another storage", func(t *testing.T) {
		other := newStubStorage()
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		if _, err := doc.Save(st); err != nil {
			t.Fatal(err)
		}
		clone, err := doc.SaveAs("", other)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := other.Fetch(clone.PK()); err != nil {
			t.Errorf("clone not in target storage: %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	st := newStubStorage()

	t.Run("unsaved document cannot be deleted", func(t *testing.T) {
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		if err := doc.Delete(); !errors.Is(err, ErrState) {
			t.Fatalf("expected ErrState, got %v", err)
		}
	})

	t.Run("removes the record", func(t *testing.T) {
		doc := MustNew(noteSchema(), map[string]any{"text": "x"})
		key, err := doc.Save(st)
		if err != nil {
			t.Fatal(err)
		}
		if err := doc.Delete(); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := st.Fetch(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("record still fetchable: %v", err)
		}
	})
}

func TestConvertTo(t *testing.T) {
	registry := NewRegistry()
	note := NewSchema("note").
		Field("text", String(), Required()).
		In(registry).MustBuild()
	todo := NewSchema("todo").
		Field("text", String(), Required()).
		Field("is_done", Bool(), WithDefault(false)).
		In(registry).MustBuild()

	t.Run("persisted document is re-fetched", func(t *testing.T) {
		st := newStubStorage()
		doc := MustNew(note, map[string]any{"text": "buy milk"})
		key, err := doc.Save(st)
		if err != nil {
			t.Fatal(err)
		}
		converted, err := doc.ConvertTo(todo, nil)
		if err != nil {
			t.Fatalf("conversion failed: %v", err)
		}
		if converted.Schema() != todo {
			t.Error("converted document carries the wrong schema")
		}
		if converted.PK() != key {
			t.Error("conversion must preserve the key")
		}
		if v, _ := converted.Raw("text"); v != "buy milk" {
			t.Errorf("content lost in conversion: %v", v)
		}
	})

	t.Run("transient document is cloned", func(t *testing.T) {
		doc := MustNew(note, map[string]any{"text": "draft"})
		converted, err := doc.ConvertTo(todo, nil)
		if err != nil {
			t.Fatal(err)
		}
		if converted.PK() != "" {
			t.Error("transient conversion must stay transient")
		}
		if v, _ := converted.Raw("text"); v != "draft" {
			t.Errorf("content lost: %v", v)
		}
	})

	t.Run("overrides apply raw", func(t *testing.T) {
		doc := MustNew(note, map[string]any{"text": "x"})
		converted, err := doc.ConvertTo(todo, map[string]any{"is_done": true})
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := converted.Raw("is_done"); v != true {
			t.Errorf("override not applied: %v", v)
		}
	})

	t.Run("override of unknown field fails", func(t *testing.T) {
		doc := MustNew(note, map[string]any{"text": "x"})
		if _, err := doc.ConvertTo(todo, map[string]any{"color": "red"}); !errors.Is(err, ErrSchema) {
			t.Fatalf("expected ErrSchema, got %v", err)
		}
	})
}

func TestGetOrCreate(t *testing.T) {
	st := newStubStorage()
	s := NewSchema("tag").Field("name", String(), Required()).MustBuild()

	doc, created, err := GetOrCreate(st, s, Conds{"name": "urgent"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}
	again, created, err := GetOrCreate(st, s, Conds{"name": "urgent"})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if created {
		t.Error("second call should find the existing record")
	}
	if !doc.Equal(again) {
		t.Error("both calls should yield the same record")
	}

	if _, _, err := GetOrCreate(st, s, nil); !errors.Is(err, ErrState) {
		t.Errorf("expected ErrState for empty conditions, got %v", err)
	}
}

func TestReferencedBy(t *testing.T) {
	st := newStubStorage()
	registry := NewRegistry()
	author := NewSchema("author").
		Field("name", String(), Required()).
		In(registry).MustBuild()
	book := NewSchema("book").
		Field("title", String(), Required()).
		Field("author", LazyRef("author")).
		In(registry).MustBuild()

	orwell := MustNew(author, map[string]any{"name": "Orwell"})
	if _, err := orwell.Save(st); err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"1984", "Animal Farm"} {
		b := MustNew(book, map[string]any{"title": title, "author": orwell.PK()})
		if _, err := b.Save(st); err != nil {
			t.Fatal(err)
		}
	}
	stray := MustNew(book, map[string]any{"title": "The Hobbit"})
	if _, err := stray.Save(st); err != nil {
		t.Fatal(err)
	}

	q, err := orwell.ReferencedBy(book, "author")
	if err != nil {
		t.Fatalf("referenced-by failed: %v", err)
	}
	n, err := q.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 referencing books, got %d", n)
	}

	transient := MustNew(author, map[string]any{"name": "Nobody"})
	if _, err := transient.ReferencedBy(book, "author"); !errors.Is(err, ErrState) {
		t.Errorf("expected ErrState, got %v", err)
	}
}
