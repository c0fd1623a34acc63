package shadow

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Operation is the kind of edit a commit records.
type Operation string

const (
	OpInsert  Operation = "insert"
	OpDelete  Operation = "delete"
	OpReplace Operation = "replace"
	OpMove    Operation = "move"
	OpRename  Operation = "rename"

	// OpInit marks the root commit, which captures the baseline before the
	// first tracked edit.
	OpInit Operation = "init"
)

// ParseOperation converts a user-supplied operation name.
// OpInit is reserved for the root and is rejected.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpInsert, OpDelete, OpReplace, OpMove, OpRename:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q (want insert, delete, replace, move or rename)", s)
	}
}

// FileChange records the content of one file before and after a commit.
// plumbing.ZeroHash on either side means the file did not exist.
type FileChange struct {
	Path   string
	Before plumbing.Hash
	After  plumbing.Hash
}

// Commit is one node of the shadow history tree. Commits are immutable once
// written; parent and child links are ids resolved through the Repository.
type Commit struct {
	ID        plumbing.Hash
	Parent    plumbing.Hash // ZeroHash for the root
	Seq       int64
	Operation Operation
	Targets   []string
	Files     []FileChange
	Message   string
	Workflow  string

	// RealVCSHead is the real repository HEAD when the commit was written,
	// empty when there is no real VCS or the branch is unborn.
	RealVCSHead string

	// Checkpoint marks a commit written right after the real HEAD moved.
	Checkpoint bool

	// Resync marks a commit forced over externally modified files.
	Resync bool

	Timestamp time.Time
}

// IsRoot reports whether c is the root commit.
func (c *Commit) IsRoot() bool {
	return c.Parent == plumbing.ZeroHash
}

// File returns the change recorded for path, if any.
func (c *Commit) File(path string) (FileChange, bool) {
	for _, f := range c.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileChange{}, false
}

// Touches reports whether the commit recorded a change to path.
func (c *Commit) Touches(path string) bool {
	_, ok := c.File(path)
	return ok
}

// Paths returns the paths recorded by the commit, in commit order.
func (c *Commit) Paths() []string {
	out := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		out = append(out, f.Path)
	}
	return out
}

// ShortID returns the abbreviated commit id used in user-facing output.
func (c *Commit) ShortID() string {
	return ShortHash(c.ID)
}

// ShortHash abbreviates a hash to 12 hex characters.
func ShortHash(h plumbing.Hash) string {
	if h == plumbing.ZeroHash {
		return ""
	}
	return h.String()[:12]
}
