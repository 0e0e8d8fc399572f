package doqu

// Codec converts one data type between its in-memory form and the
// backend's native representation. Encode and Decode must be exact
// inverses, except that every backend collapses its empty values
// (empty string, absent, null) into one canonical empty form.
type Codec interface {
	// Encode turns an in-memory value into the wire form. The storage
	// is passed so reference codecs can cascade a save of a referenced
	// document that has no key yet.
	Encode(value any, st Storage) (any, error)

	// Decode turns a wire value back into the in-memory form.
	Decode(value any) (any, error)
}

// CodecFuncs builds a Codec from two functions.
type CodecFuncs struct {
	EncodeFunc func(value any, st Storage) (any, error)
	DecodeFunc func(value any) (any, error)
}

func (c CodecFuncs) Encode(value any, st Storage) (any, error) {
	if c.EncodeFunc == nil {
		return value, nil
	}
	return c.EncodeFunc(value, st)
}

func (c CodecFuncs) Decode(value any) (any, error) {
	if c.DecodeFunc == nil {
		return value, nil
	}
	return c.DecodeFunc(value)
}

// NoopCodec passes values through unchanged; useful for backends whose
// native representation is the in-memory one.
var NoopCodec Codec = CodecFuncs{}

// ConverterRegistry maps data kinds to codecs for one backend. Each
// backend constructs its own registry once and hands it out through
// Storage.Converters; there are no shared module-level registries.
//
// Exactly one codec may be registered per kind. Registering a
// duplicate fails loudly; unregister first if replacement is really
// intended. An optional fallback codec catches kinds with no entry.
type ConverterRegistry struct {
	codecs   map[Kind]Codec
	fallback Codec
}

// NewConverterRegistry returns an empty registry.
func NewConverterRegistry() *ConverterRegistry {
	return &ConverterRegistry{codecs: make(map[Kind]Codec)}
}

// Register adds the codec for a kind. A kind can only be registered
// once.
func (r *ConverterRegistry) Register(k Kind, c Codec) error {
	if c == nil {
		return lookupErr("cannot register nil codec for %s", k)
	}
	if _, exists := r.codecs[k]; exists {
		return lookupErr("a codec for %s is already registered; unregister it first", k)
	}
	r.codecs[k] = c
	return nil
}

// RegisterFallback sets the codec used for kinds with no entry. Only
// one fallback is allowed.
func (r *ConverterRegistry) RegisterFallback(c Codec) error {
	if r.fallback != nil {
		return lookupErr("a fallback codec is already registered")
	}
	r.fallback = c
	return nil
}

// Unregister removes and returns the codec for a kind.
func (r *ConverterRegistry) Unregister(k Kind) (Codec, error) {
	c, exists := r.codecs[k]
	if !exists {
		return nil, lookupErr("no codec registered for %s", k)
	}
	delete(r.codecs, k)
	return c, nil
}

func (r *ConverterRegistry) codec(k Kind) (Codec, error) {
	if c, ok := r.codecs[k]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, lookupErr("backend defines no codec for %s", k)
}

// Encode converts an in-memory value to the wire form, dispatching on
// the value's own kind (symmetric with how documents are saved). Nil
// is every backend's canonical empty form and passes through.
func (r *ConverterRegistry) Encode(value any, st Storage) (any, error) {
	if value == nil {
		return nil, nil
	}
	c, err := r.codec(KindOf(value))
	if err != nil {
		return nil, err
	}
	return c.Encode(value, st)
}

// Decode converts a wire value back into the in-memory form expected
// for the declared field type.
func (r *ConverterRegistry) Decode(t FieldType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	c, err := r.codec(t.Kind)
	if err != nil {
		return nil, err
	}
	return c.Decode(value)
}

// RefCodec returns the codec every backend registers under KindRef: it
// encodes a referenced document to its primary key, saving the
// reference first if it has no key yet (write-through), and leaves
// decoding to the lazy resolution on read.
func RefCodec() Codec {
	return CodecFuncs{
		EncodeFunc: func(value any, st Storage) (any, error) {
			doc, ok := value.(*Document)
			if !ok {
				// already a raw key
				return value, nil
			}
			if doc.PK() == "" {
				if _, err := doc.Save(st); err != nil {
					return nil, err
				}
			}
			return doc.PK(), nil
		},
	}
}

// ManyRefCodec is the one-to-many counterpart of RefCodec: a list of
// documents becomes a list of primary keys.
func ManyRefCodec() Codec {
	ref := RefCodec()
	return CodecFuncs{
		EncodeFunc: func(value any, st Storage) (any, error) {
			docs, ok := value.([]*Document)
			if !ok {
				return value, nil
			}
			keys := make([]any, 0, len(docs))
			for _, d := range docs {
				key, err := ref.Encode(d, st)
				if err != nil {
					return nil, err
				}
				keys = append(keys, key)
			}
			return keys, nil
		},
	}
}
