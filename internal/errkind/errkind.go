// Package errkind defines the typed error variants that flow through the
// scan pipeline instead of ad-hoc error strings.
package errkind

import "fmt"

// Kind enumerates the error categories carried by *Error.
type Kind string

const (
	IoError             Kind = "io_error"
	Cancelled           Kind = "cancelled"
	Timeout             Kind = "timeout"
	IntegrityFailure    Kind = "integrity_failure"
	PolicyReject        Kind = "policy_reject"
	NotFound            Kind = "not_found"
	TransientEngineError Kind = "transient_engine_error"
	PersistenceError    Kind = "persistence_error"
)

// Error wraps an underlying error with a Kind and, when relevant, the path
// it concerns. It implements Unwrap so callers can still errors.Is/As through
// to the underlying cause.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func New(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ke, ok := err.(*Error); ok {
			e = ke
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
