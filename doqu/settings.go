package doqu

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings configures one storage connection. "backend" names a
// registered backend; the remaining keys are passed to its factory
// untouched.
type Settings map[string]any

// Backend returns the "backend" key.
func (s Settings) Backend() string {
	name, _ := s["backend"].(string)
	return name
}

// String returns the named key as a string, or fallback when absent.
func (s Settings) String(key, fallback string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return fallback
}

// Bool returns the named key as a bool, or fallback when absent.
func (s Settings) Bool(key string, fallback bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return fallback
}

// Factory builds a connected storage from settings.
type Factory func(Settings) (Storage, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// RegisterBackend makes a storage implementation available to
// OpenStorage under the given name. Backend packages call this from
// init; registering the same name twice panics.
func RegisterBackend(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[name]; dup {
		panic(fmt.Sprintf("doqu: backend %q registered twice", name))
	}
	backends[name] = f
}

// OpenStorage dispatches on the "backend" key and hands the settings
// to the matching factory. The call site names no backend package, so
// the backend can come from configuration alone.
func OpenStorage(settings Settings) (Storage, error) {
	name := settings.Backend()
	if name == "" {
		return nil, schemaErr("settings: missing backend name")
	}
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, schemaErr("settings: unknown backend %q", name)
	}
	st, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", name, err)
	}
	return st, nil
}

// LoadSettings reads YAML settings and opens the storage they
// describe. The document is a flat mapping:
//
//	backend: flatfile
//	path: data/records.json
func LoadSettings(r io.Reader) (Storage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var settings Settings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return OpenStorage(settings)
}

// LoadSettingsFile is LoadSettings over a file path.
func LoadSettingsFile(path string) (Storage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadSettings(f)
}
