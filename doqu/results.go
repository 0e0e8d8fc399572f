package doqu

// defaultChunkSize is how many records a materialization pulls from
// the backend cursor per cache growth step.
const defaultChunkSize = 100

// Results is the chunked materialization of one query run. Documents
// are pulled from the backend cursor in chunks and cached; the cache
// only grows, so any index served once is served from memory
// afterwards.
type Results struct {
	storage Storage
	schema  *Schema
	cursor  Cursor
	chunk   int

	cache     []*Document
	exhausted bool
	err       error
}

func newResults(st Storage, schema *Schema, cursor Cursor, chunk int) *Results {
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Results{storage: st, schema: schema, cursor: cursor, chunk: chunk}
}

// fill grows the cache until it covers index n or the cursor runs dry.
func (r *Results) fill(n int) error {
	if r.err != nil {
		return r.err
	}
	for !r.exhausted && len(r.cache) <= n {
		for i := 0; i < r.chunk; i++ {
			key, ok := r.cursor.Next()
			if !ok {
				if err := r.cursor.Err(); err != nil {
					r.err = err
					return err
				}
				r.exhausted = true
				break
			}
			doc, err := Get(r.storage, r.schema, key)
			if err != nil {
				r.err = err
				return err
			}
			r.cache = append(r.cache, doc)
		}
	}
	return nil
}

// At returns the document at index i, fetching at most enough chunks
// to cover it. Indexes past the end return ErrOutOfRange.
func (r *Results) At(i int) (*Document, error) {
	if i < 0 {
		return nil, ErrOutOfRange
	}
	if err := r.fill(i); err != nil {
		return nil, err
	}
	if i >= len(r.cache) {
		return nil, ErrOutOfRange
	}
	return r.cache[i], nil
}

// All exhausts the cursor and returns every document. The returned
// slice is shared with the cache; callers must not reorder it.
func (r *Results) All() ([]*Document, error) {
	if err := r.fill(int(^uint(0) >> 1)); err != nil {
		return nil, err
	}
	return r.cache, nil
}

// Len exhausts the cursor and returns the total count.
func (r *Results) Len() (int, error) {
	docs, err := r.All()
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Fetched reports how many documents are cached so far, without
// touching the backend.
func (r *Results) Fetched() int { return len(r.cache) }

// Close releases the underlying cursor. Cached documents remain
// usable.
func (r *Results) Close() error {
	r.exhausted = true
	return r.cursor.Close()
}
