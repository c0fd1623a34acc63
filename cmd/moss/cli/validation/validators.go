// Package validation provides input validation functions for moss.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// commitRefRegex matches a full or abbreviated hex commit ID.
var commitRefRegex = regexp.MustCompile(`^[0-9a-f]{4,40}$`)

// MinRefPrefixLength is the shortest commit ID prefix accepted as a reference.
const MinRefPrefixLength = 4

// ValidateTrackedPath validates that a path is a clean, slash-separated path
// relative to the worktree root. Tracked paths become git tree entry names in
// the shadow store, so traversal and absolute paths are rejected.
func ValidateTrackedPath(p string) error {
	if p == "" {
		return errors.New("path cannot be empty")
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("invalid path %q: must use forward slashes", p)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("invalid path %q: must be relative to the worktree root", p)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("invalid path %q: must be clean", p)
	}
	if p == "." {
		return fmt.Errorf("invalid path %q: must name a file", p)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return fmt.Errorf("invalid path %q: escapes the worktree", p)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("invalid path %q: contains NUL", p)
	}
	return nil
}

// ValidateCommitRef validates that a string looks like a (possibly abbreviated)
// commit ID.
func ValidateCommitRef(ref string) error {
	if !commitRefRegex.MatchString(ref) {
		return fmt.Errorf("invalid commit reference %q: expected %d-40 lowercase hex characters", ref, MinRefPrefixLength)
	}
	return nil
}
