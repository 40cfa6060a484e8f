package store

import "github.com/fleetsupervisor/fleetd/internal/errs"

// Error constructors for the State Store's failure taxonomy (spec §4.1):
// InvalidIdentifier, PathEscape, StateDirError, AtomicWriteFailed. None are
// retried inside this package; callers decide.

func errInvalidIdentifier(op, identifier string) error {
	return errs.New(op, errs.KindInvalid, "invalid identifier: "+identifier)
}

func errPathEscape(op, identifier string) error {
	return errs.New(op, errs.KindInvalid, "path escapes base directory: "+identifier)
}

func errStateDir(op string, cause error) error {
	return errs.Wrap(op, errs.KindInternal, "state directory error", cause)
}

func errAtomicWrite(op string, cause error) error {
	return errs.Wrap(op, errs.KindInternal, "atomic write failed", cause)
}

func errNotFound(op, id string) error {
	return errs.New(op, errs.KindNotFound, "not found: "+id)
}

func errTerminalImmutable(op, id string) error {
	return errs.New(op, errs.KindConflict, "job is terminal, metadata is immutable: "+id)
}
