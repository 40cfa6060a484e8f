// Package pathsafe implements the identifier and path-containment checks
// that every component deriving a filesystem path from an untrusted
// identifier (agent name, job id, channel id) must apply, per spec
// invariant "every derived filesystem path built from an identifier must
// resolve strictly inside its designated base directory".
//
// Grounded on the teacher's internal/sessions/manager.go sanitizeFilename
// plus its Save() path-containment check (filepath.IsLocal, rejecting any
// path separator in the sanitized name), generalized into one reusable
// validator shared by the state store and the config loader's agent-name
// validation.
package pathsafe

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fleetsupervisor/fleetd/internal/errs"
)

// identifierPattern: letters/digits/_/- , must start alphanumeric. Matches
// spec §6.1's safe-identifier pattern used for agent names and job ids.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidIdentifier reports whether id is a safe identifier: non-empty,
// starts with an alphanumeric character, and contains only letters,
// digits, underscore, or hyphen thereafter.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// BuildSafeFilePath validates identifier against ValidIdentifier, then
// resolves base and base+identifier+extension, verifying the resolved
// result still lies strictly inside the resolved base directory. Returns
// an *errs.Error with Kind() == errs.KindInvalid on any failure; no
// filesystem access is performed by this function itself.
func BuildSafeFilePath(baseDir, identifier, extension string) (string, error) {
	const op = "pathsafe.BuildSafeFilePath"
	if !ValidIdentifier(identifier) {
		return "", errs.New(op, errs.KindInvalid, "invalid identifier: "+identifier)
	}

	resolvedBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", errs.Wrap(op, errs.KindInvalid, "cannot resolve base directory", err)
	}
	resolvedBase = filepath.Clean(resolvedBase)

	fileName := identifier
	if extension != "" {
		fileName = identifier + extension
	}
	candidate := filepath.Join(resolvedBase, fileName)
	candidate = filepath.Clean(candidate)

	if candidate != resolvedBase && !strings.HasPrefix(candidate, resolvedBase+string(filepath.Separator)) {
		return "", errs.New(op, errs.KindInvalid, "path escapes base directory: "+identifier)
	}
	return candidate, nil
}
