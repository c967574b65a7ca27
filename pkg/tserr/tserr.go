// Package tserr defines the typed error taxonomy returned by every engine
// command, so the adapter layer can map a failure to a wire error code
// without string-matching messages.
package tserr

import "fmt"

// Kind classifies the cause of a command failure.
type Kind string

const (
	WrongType           Kind = "WRONG_TYPE"
	ParseError          Kind = "PARSE_ERROR"
	ArgsError           Kind = "ARGS_ERROR"
	ConstraintViolation Kind = "CONSTRAINT_VIOLATION"
	DuplicateBlocked    Kind = "DUPLICATE_BLOCKED"
	NotFound            Kind = "NOT_FOUND"
	QueryTimeout        Kind = "QUERY_TIMEOUT"
	Internal            Kind = "INTERNAL"
)

// Error is a typed command error carrying a Kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for plain errors.
func KindOf(err error) Kind {
	var te *Error
	if As(err, &te) {
		return te.Kind
	}
	return Internal
}

// As is a thin indirection over errors.As kept local so callers only need
// this package for the common case of extracting a *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
