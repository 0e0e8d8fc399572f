package testutil

import (
	"errors"
	"testing"

	"github.com/neithere/doqu/doqu"
)

// AssertCount checks a query's Count against an expectation.
func AssertCount(t *testing.T, q *doqu.Query, expected int, context string) {
	t.Helper()
	n, err := q.Count()
	if err != nil {
		t.Fatalf("count failed %s: %v", context, err)
	}
	if n != expected {
		t.Errorf("expected %d records %s, got %d", expected, context, n)
	}
}

// AssertTitles materializes a book query and compares the title
// sequence, order included.
func AssertTitles(t *testing.T, q *doqu.Query, expected ...string) {
	t.Helper()
	docs, err := q.All()
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var got []string
	for _, doc := range docs {
		title, err := doc.Get("title")
		if err != nil {
			t.Fatalf("failed to read title: %v", err)
		}
		got = append(got, title.(string))
	}
	if len(got) != len(expected) {
		t.Fatalf("expected titles %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("title %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

// AssertErrIs checks an error chain for a sentinel.
func AssertErrIs(t *testing.T, err, sentinel error, context string) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Errorf("%s: expected %v, got %v", context, sentinel, err)
	}
}
