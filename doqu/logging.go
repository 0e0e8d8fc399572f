package doqu

import (
	"log/slog"
	"sync/atomic"
)

// The package logs through slog. By default records go to the
// process-wide slog default logger; SetLogger redirects them, e.g. to
// a discard handler in tests or to a tagged logger per storage.

var packageLogger atomic.Pointer[slog.Logger]

// SetLogger replaces the logger used by this package. Passing nil
// reverts to slog.Default.
func SetLogger(l *slog.Logger) {
	packageLogger.Store(l)
}

func logger() *slog.Logger {
	if l := packageLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}
