package writer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clarigen/clarigen/pkg/models"
)

// Task codes become directory names under the corpus root, so they are
// validated against a strict pattern before any path is built.
var codeRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

// ValidateTaskCodes rejects task codes that could escape the corpus root
// or collide with run-level artifacts.
//
// This prevents CWE-22 (Improper Limitation of a Pathname to a Restricted Directory)
func ValidateTaskCodes(task models.Task) error {
	for _, code := range []string{task.DomainCode, task.TypeCode} {
		if code == "" {
			return fmt.Errorf("task code cannot be empty")
		}
		if strings.Contains(code, "..") {
			return fmt.Errorf("invalid task code %q: contains '..' (path traversal attempt)", code)
		}
		if strings.ContainsAny(code, "/\\") {
			return fmt.Errorf("invalid task code %q: must not contain path separators", code)
		}
		if !codeRegex.MatchString(code) {
			return fmt.Errorf("invalid task code %q: expected letters, digits, '_' or '-'", code)
		}
	}
	if task.Rounds < 1 {
		return fmt.Errorf("invalid round count %d: must be at least 1", task.Rounds)
	}
	return nil
}
