package blueprint

import "fmt"

// ErrorKind classifies loader and validator failures.
type ErrorKind string

const (
	// KindCircularReference indicates an import cycle in the blueprint tree.
	KindCircularReference ErrorKind = "circular_reference"

	// KindMissingReference indicates an edge, collector, loop or condition
	// referencing an undeclared symbol.
	KindMissingReference ErrorKind = "missing_reference"

	// KindSchemaError indicates a structurally invalid document.
	KindSchemaError ErrorKind = "schema_error"

	// KindVersionMismatch indicates a document declaring both producer
	// imports and models; the two are mutually exclusive.
	KindVersionMismatch ErrorKind = "version_mismatch"
)

// Error is a typed blueprint loading or validation error. It carries the
// document path so callers can point the user at the offending file.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Path is the source path of the document that caused the error.
	Path string

	// Ref is the offending reference or symbol, if any.
	Ref string

	// Msg describes the problem.
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s (%s: %q)", e.Path, e.Msg, e.Kind, e.Ref)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Msg, e.Kind)
}

func newError(kind ErrorKind, path, ref, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, Ref: ref, Msg: fmt.Sprintf(format, args...)}
}
