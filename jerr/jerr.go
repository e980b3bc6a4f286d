// Package jerr defines the sentinel error kinds shared across jify's
// storage components.
package jerr

import "errors"

// Sentinel error kinds. Call sites wrap these with fmt.Errorf("...: %w", Err...)
// so callers can still errors.Is against the kind.
var (
	// NotFound is returned when an operation requires a data or index file
	// that does not exist on disk.
	NotFound = errors.New("jify: not found")

	// AlreadyExists is returned by an exclusive create when the target file
	// is already present.
	AlreadyExists = errors.New("jify: already exists")

	// InvalidFormat is returned when the tail of the data file lacks a
	// closing bracket, a z85 token has the wrong length or value, a numeric
	// value is non-finite, or an index entry's payload can't be parsed.
	InvalidFormat = errors.New("jify: invalid format")

	// FieldMissing is returned when find/insert references a field whose
	// header is not present in the index.
	FieldMissing = errors.New("jify: field missing")

	// FieldInTransaction is returned when find targets a field whose header
	// has tx=1, meaning an index build is in progress or was aborted.
	FieldInTransaction = errors.New("jify: field in transaction")

	// PredicateInvalid is returned by the query parser for a malformed
	// predicate string.
	PredicateInvalid = errors.New("jify: predicate invalid")
)
