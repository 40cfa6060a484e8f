// Package errs defines the tagged-variant error kinds shared across the
// fleet supervisor. Every error that crosses a component boundary (store,
// scheduler, runner, hooks, chat, fleet) implements Kind() so callers can
// branch on category without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure. Callers switch on Kind(), never on
// error message text.
type Kind string

const (
	// KindNotFound: the referenced entity (agent, job, schedule, session)
	// does not exist.
	KindNotFound Kind = "not_found"
	// KindInvalid: caller-supplied input failed validation.
	KindInvalid Kind = "invalid"
	// KindConflict: the requested state transition is not legal from the
	// entity's current state (e.g. updating a terminal job's metadata).
	KindConflict Kind = "conflict"
	// KindUnavailable: a dependency (driver, bridge, MCP server) could not
	// be reached; retrying later may succeed.
	KindUnavailable Kind = "unavailable"
	// KindTimeout: an operation exceeded its bounded deadline.
	KindTimeout Kind = "timeout"
	// KindCanceled: the operation was canceled via context or an explicit
	// cancel/stop request.
	KindCanceled Kind = "canceled"
	// KindInternal: an unexpected failure that does not fit another kind.
	KindInternal Kind = "internal"
)

// Kinded is implemented by every error type defined in this package.
type Kinded interface {
	error
	Kind() Kind
}

// Error is the concrete tagged error used throughout the codebase.
type Error struct {
	kind    Kind
	op      string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.op, e.message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.op, e.message)
}

func (e *Error) Kind() Kind   { return e.kind }
func (e *Error) Unwrap() error { return e.err }

// New builds an Error with no wrapped cause.
func New(op string, kind Kind, message string) *Error {
	return &Error{op: op, kind: kind, message: message}
}

// Wrap builds an Error carrying a wrapped cause, preserved for errors.Is/As.
func Wrap(op string, kind Kind, message string, err error) *Error {
	return &Error{op: op, kind: kind, message: message, err: err}
}

// KindOf returns the Kind of err if it (or something in its chain)
// implements Kinded, otherwise KindInternal.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Is reports whether err's kind, anywhere in its chain, equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
