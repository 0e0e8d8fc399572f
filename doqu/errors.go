package doqu

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Callers are expected to
// test them with errors.Is; all errors returned by this package wrap one
// of these.
var (
	// ErrSchema reports access to or assignment of a field that is not
	// part of a document's declared structure.
	ErrSchema = errors.New("schema error")

	// ErrValidation reports a type mismatch or a failed custom validator.
	ErrValidation = errors.New("validation error")

	// ErrLookup reports that a backend has no converter registered for a
	// type or no processor registered for a query operator.
	ErrLookup = errors.New("lookup error")

	// ErrState reports an operation that requires a storage association
	// the document does not have (saving without a storage, deleting a
	// transient instance, resolving a reference without a storage).
	ErrState = errors.New("state error")

	// ErrNotFound reports that a record with the requested primary key
	// does not exist in the storage.
	ErrNotFound = errors.New("record not found")

	// ErrOutOfRange reports indexing past the end of a result set.
	ErrOutOfRange = errors.New("index out of range")
)

// StopValidation short-circuits a validator chain without failing it.
// A validator returns it to declare the remaining checks irrelevant,
// typically when an optional field is empty.
var StopValidation = errors.New("stop validation")

func schemaErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func lookupErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLookup, fmt.Sprintf(format, args...))
}

func stateErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}
