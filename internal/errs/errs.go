// Package errs defines the compile-time error taxonomy shared by every
// compiler stage. The root docql package re-exports the sentinels.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every compile failure wraps exactly one of these, so callers
// can branch with errors.Is regardless of which stage produced the failure.
// None of them are retryable: the same input always fails the same way.
var (
	// ErrUnsupportedMemberKind is returned when a member path reaches a Go type
	// with no JSON-path or cast strategy (channels, funcs, complex numbers,
	// interfaces, maps with non-string keys).
	ErrUnsupportedMemberKind = errors.New("docql: unsupported member kind")

	// ErrUnsupportedExpression is returned when a node or method call has no
	// translation, including unknown members and calls no parser matches.
	ErrUnsupportedExpression = errors.New("docql: unsupported expression")

	// ErrTypeMismatch is returned when the operands of a comparison cannot be
	// compared (for example a numeric member against a string constant).
	ErrTypeMismatch = errors.New("docql: type mismatch in comparison")

	// ErrInvalidCompiledQuery is returned at plan time when a compiled-query
	// template cannot be represented as a reusable plan.
	ErrInvalidCompiledQuery = errors.New("docql: invalid compiled query")

	// ErrNotSupportedDirectInvocation is returned when a marker method that only
	// has meaning inside SQL translation is evaluated in memory.
	ErrNotSupportedDirectInvocation = errors.New("docql: method only supported inside a query")
)

// Error is a compile failure with the offending subject named.
type Error struct {
	Kind    error  // one of the sentinels above
	Subject string // member path, call shape or type name
	Detail  string // optional human-readable detail
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg += ": " + e.Subject
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New creates an Error of the given kind.
func New(kind error, subject, detail string) *Error {
	return &Error{Kind: kind, Subject: subject, Detail: detail}
}

// Newf creates an Error with a formatted detail.
func Newf(kind error, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Detail: fmt.Sprintf(format, args...)}
}

// UnsupportedMember is shorthand for an ErrUnsupportedMemberKind failure.
func UnsupportedMember(path, detail string) *Error {
	return New(ErrUnsupportedMemberKind, path, detail)
}

// Unsupported is shorthand for an ErrUnsupportedExpression failure.
func Unsupported(subject, detail string) *Error {
	return New(ErrUnsupportedExpression, subject, detail)
}

// Mismatch is shorthand for an ErrTypeMismatch failure.
func Mismatch(subject, detail string) *Error {
	return New(ErrTypeMismatch, subject, detail)
}

// InvalidCompiled is shorthand for an ErrInvalidCompiledQuery failure.
func InvalidCompiled(subject, detail string) *Error {
	return New(ErrInvalidCompiledQuery, subject, detail)
}

// DirectInvocation is shorthand for an ErrNotSupportedDirectInvocation failure.
func DirectInvocation(method string) *Error {
	return New(ErrNotSupportedDirectInvocation, method, "marker methods can only be translated to SQL")
}
