package config

import (
	"fmt"

	"github.com/fleetsupervisor/fleetd/internal/errs"
)

// ValidationIssue is one entry of a ConfigValidationError, per spec §4.2.
type ValidationIssue struct {
	Path    string
	Message string
	Value   any
}

// ValidationError carries the full list of schema/semantic violations
// found while resolving a FleetConfig. It satisfies errs.Kinded with
// errs.KindInvalid.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config validation failed"
	}
	return fmt.Sprintf("config validation failed: %s: %s (have %d more issue(s))",
		e.Issues[0].Path, e.Issues[0].Message, len(e.Issues)-1)
}

func (e *ValidationError) Kind() errs.Kind { return errs.KindInvalid }

func newValidationError(issues []ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}
