// Package doqu is a lightweight schema/query layer for schema-less
// document stores. Application code declares a schema over records kept
// in heterogeneous backends (in-memory maps, flat files, embedded
// databases) and works with them as validated documents, while the same
// declarative query conditions translate to each backend's native query
// mechanism.
//
// The package itself contains no storage code. Backends implement the
// Storage contract and supply a ConverterRegistry (type codecs) and a
// LookupRegistry (operator translators); the bundled adapters live under
// ext/. See the ext/memory package for the reference implementation.
package doqu
