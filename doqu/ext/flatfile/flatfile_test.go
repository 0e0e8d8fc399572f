package flatfile_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/neithere/doqu/doqu"
	"github.com/neithere/doqu/doqu/ext/flatfile"
	"github.com/neithere/doqu/testutil"
)

var _ doqu.Counter = (*flatfile.Store)(nil)

func tempStore(t *testing.T) (*flatfile.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	st, err := flatfile.New(path)
	if err != nil {
		t.Fatalf("failed to open flatfile storage: %v", err)
	}
	return st, path
}

func TestPersistenceRoundTrip(t *testing.T) {
	st, path := tempStore(t)

	registry := doqu.NewRegistry()
	schema := doqu.NewSchema("snapshot").
		Field("name", doqu.String()).
		Field("count", doqu.Int()).
		Field("ratio", doqu.Float()).
		Field("flag", doqu.Bool()).
		Field("taken", doqu.Time()).
		Field("payload", doqu.Bytes()).
		Field("labels", doqu.List()).
		In(registry).
		MustBuild()

	taken := time.Date(2023, 11, 5, 17, 4, 12, 345000000, time.UTC)
	doc := doqu.MustNew(schema, map[string]any{
		"name":    "first",
		"count":   int64(42),
		"ratio":   0.75,
		"flag":    true,
		"taken":   taken,
		"payload": []byte{0xde, 0xad, 0xbe, 0xef},
		"labels":  []any{"a", "b"},
	})
	key, err := doc.Save(st)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// a second store over the same file sees only what was flushed
	reopened, err := flatfile.New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := doqu.Get(reopened, schema, key)
	if err != nil {
		t.Fatalf("fetch after reopen failed: %v", err)
	}

	if v, _ := got.Get("count"); v != int64(42) {
		t.Errorf("count: expected int64(42), got %T %v", v, v)
	}
	if v, _ := got.Get("ratio"); v != 0.75 {
		t.Errorf("ratio: expected 0.75, got %v", v)
	}
	if v, _ := got.Get("flag"); v != true {
		t.Errorf("flag: expected true, got %v", v)
	}
	if v, _ := got.Get("taken"); !v.(time.Time).Equal(taken) {
		t.Errorf("taken: expected %v, got %v", taken, v)
	}
	if v, _ := got.Get("payload"); !bytes.Equal(v.([]byte), []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("payload mismatch: %v", v)
	}
	if v, _ := got.Get("labels"); len(v.([]any)) != 2 {
		t.Errorf("labels mismatch: %v", v)
	}

	t.Run("serialized forms on disk", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var file struct {
			Records  map[string]map[string]any `json:"records"`
			Metadata struct {
				Version string `json:"version"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &file); err != nil {
			t.Fatalf("file is not valid JSON: %v", err)
		}
		if file.Metadata.Version != "1.0" {
			t.Errorf("expected format version 1.0, got %q", file.Metadata.Version)
		}
		record := file.Records[key]
		if record == nil {
			t.Fatal("record not present in the file")
		}
		if _, ok := record["taken"].(string); !ok {
			t.Errorf("times should persist as strings, got %T", record["taken"])
		}
		if _, ok := record["payload"].(string); !ok {
			t.Errorf("bytes should persist as base64 strings, got %T", record["payload"])
		}
	})
}

func TestTimesNormalizeToUTC(t *testing.T) {
	st, path := tempStore(t)

	schema := doqu.NewSchema("event").
		Field("at", doqu.Time()).
		MustBuild()

	zone := time.FixedZone("UTC+5", 5*60*60)
	local := time.Date(2023, 11, 5, 22, 4, 12, 0, zone)
	doc := doqu.MustNew(schema, map[string]any{"at": local})
	key, err := doc.Save(st)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var file struct {
		Records map[string]map[string]any `json:"records"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatal(err)
	}
	persisted, _ := file.Records[key]["at"].(string)
	if want := local.UTC().Format(time.RFC3339Nano); persisted != want {
		t.Errorf("expected UTC form %q on disk, got %q", want, persisted)
	}

	got, err := doqu.Get(st, schema, key)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("at"); !v.(time.Time).Equal(local) {
		t.Errorf("round trip lost the instant: %v", v)
	}

	// the same instant expressed in another zone finds the record
	n, err := doqu.NewQuery(st, schema).Where(doqu.Conds{"at": local.UTC()}).Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("equality across zones missed the record: %d", n)
	}
}

func TestEmptyStringsCollapse(t *testing.T) {
	st, _ := tempStore(t)

	schema := doqu.NewSchema("entry").
		Field("title", doqu.String()).
		Field("note", doqu.String()).
		MustBuild()
	doc := doqu.MustNew(schema, map[string]any{"title": "x", "note": ""})
	key, err := doc.Save(st)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := st.Fetch(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, present := raw["note"]; present {
		t.Error("empty string should not be stored at all")
	}
	got, err := doqu.Get(st, schema, key)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Get("note"); v != nil {
		t.Errorf("expected nil for the collapsed field, got %v", v)
	}
}

func TestMutationsPersist(t *testing.T) {
	st, path := tempStore(t)
	u := testutil.LoadUniverse(t, st)

	if err := st.Delete(u.Hobbit); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete("no-such-key"); !errors.Is(err, doqu.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	reopened, err := flatfile.New(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := reopened.Contains(u.Hobbit); ok {
		t.Error("deletion not persisted")
	}
	if n, _ := reopened.Len(); n != 7 {
		t.Errorf("expected 7 records after one deletion, got %d", n)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatal(err)
	}
	final, err := flatfile.New(path)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := final.Len(); n != 0 {
		t.Errorf("clear not persisted, %d records remain", n)
	}
}

func TestQueriesOverReloadedData(t *testing.T) {
	st, path := tempStore(t)
	u := testutil.LoadUniverse(t, st)

	// force every value through its serialized JSON form
	reopened, err := flatfile.New(path)
	if err != nil {
		t.Fatal(err)
	}
	books := func() *doqu.Query { return u.Book.Objects(reopened) }

	testutil.AssertCount(t, books(), 5, "in total")
	testutil.AssertCount(t, books().Where(doqu.Conds{"year": int64(1949)}), 1, "from 1949")
	testutil.AssertCount(t, books().Where(doqu.Conds{"year__gt": int64(1949)}), 2, "after 1949")
	testutil.AssertCount(t, books().Where(doqu.Conds{"tags__contains": "classic"}), 3, "tagged classic")
	testutil.AssertCount(t, books().Where(doqu.Conds{"published__year": int64(1949)}), 1, "published in 1949")
	testutil.AssertCount(t, books().Where(doqu.Conds{"published__month": int64(8)}), 2, "published in August")
	testutil.AssertCount(t, books().Where(doqu.Conds{"author": u.Orwell}), 2, "by Orwell")
	testutil.AssertCount(t, books().WhereNot(doqu.Conds{"tags__contains": "classic"}), 2, "not classic")

	t.Run("ordering survives serialization", func(t *testing.T) {
		testutil.AssertTitles(t, books().OrderBy("year"),
			"The Hobbit", "Animal Farm", "Nineteen Eighty-Four", "The Lord of the Rings", "Dune")
		testutil.AssertTitles(t, books().Where(doqu.Conds{"author": u.Orwell}).OrderBy("-published"),
			"Nineteen Eighty-Four", "Animal Farm")
	})

	t.Run("references resolve across reloads", func(t *testing.T) {
		dune, err := doqu.Get(reopened, u.Book, u.Dune)
		if err != nil {
			t.Fatal(err)
		}
		author, err := dune.Ref("author")
		if err != nil {
			t.Fatal(err)
		}
		if name, _ := author.Get("name"); name != "Frank Herbert" {
			t.Errorf("expected Frank Herbert, got %v", name)
		}
	})
}

func TestOpenViaSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	st, err := doqu.OpenStorage(doqu.Settings{"backend": "flatfile", "path": path})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, ok := st.(*flatfile.Store); !ok {
		t.Fatalf("expected a flatfile store, got %T", st)
	}

	if _, err := doqu.OpenStorage(doqu.Settings{"backend": "flatfile"}); err == nil {
		t.Error("expected an error without a path")
	}
}
