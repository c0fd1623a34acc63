package shadow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

var (
	// ErrNoRedoTarget is returned by redo when head has no children.
	ErrNoRedoTarget = errors.New("nothing to redo: head has no children")

	// ErrNothingToUndo is returned when an undo would walk past the root.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrCommitNotFound is returned when a reference matches no commit.
	ErrCommitNotFound = errors.New("commit not found")

	// ErrAmbiguousRef is returned when an id prefix matches several commits.
	ErrAmbiguousRef = errors.New("ambiguous commit reference")

	// ErrDisabled is returned by navigation and pruning on a disabled handle.
	ErrDisabled = errors.New("shadow tracking is disabled")

	// ErrInvalidEdit is returned when an edit fails validation.
	ErrInvalidEdit = errors.New("invalid edit")

	// ErrUnsupportedFormat is returned when the store was written by a newer moss.
	ErrUnsupportedFormat = errors.New("unsupported shadow store format")
)

// FileConflict describes one working file whose content diverged from the
// content the shadow history expects.
type FileConflict struct {
	Path     string
	Expected plumbing.Hash
	Actual   plumbing.Hash
}

// ConflictError is returned when on-disk content does not match the expected
// pre-image. It is recoverable with force, which overwrites the files.
type ConflictError struct {
	Conflicts []FileConflict
}

func (e *ConflictError) Error() string {
	paths := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		paths = append(paths, c.Path)
	}
	return "working files modified outside moss: " + strings.Join(paths, ", ")
}

// AmbiguousRedoError is returned when head has several children and no
// selector was given.
type AmbiguousRedoError struct {
	Candidates []plumbing.Hash
}

func (e *AmbiguousRedoError) Error() string {
	ids := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		ids = append(ids, ShortHash(c))
	}
	return fmt.Sprintf("head has %d children, choose one of: %s", len(e.Candidates), strings.Join(ids, ", "))
}

// CheckpointBoundaryError is returned when navigation would move head to a
// commit older than the nearest checkpoint.
type CheckpointBoundaryError struct {
	Target     plumbing.Hash
	Checkpoint plumbing.Hash
}

func (e *CheckpointBoundaryError) Error() string {
	return fmt.Sprintf("commit %s is older than checkpoint %s", ShortHash(e.Target), ShortHash(e.Checkpoint))
}

// CorruptHistoryError reports a graph-integrity violation found while loading
// the store. A corrupt store is read-only.
type CorruptHistoryError struct {
	Reason string
}

func (e *CorruptHistoryError) Error() string {
	return "corrupt shadow history: " + e.Reason
}

// IOError wraps a storage or working-file failure. It is never retried.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// LiveDescendantsError is returned when pruning would remove the commit head
// points at, or one of its ancestors, without confirmation.
type LiveDescendantsError struct {
	Commit plumbing.Hash
	Head   plumbing.Hash
}

func (e *LiveDescendantsError) Error() string {
	return fmt.Sprintf("commit %s has live descendants (head %s); confirm to prune", ShortHash(e.Commit), ShortHash(e.Head))
}
