package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/lock"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// SilentError wraps an error whose message the command already printed.
// main exits non-zero without printing it again.
type SilentError struct {
	Err error
}

// NewSilentError wraps err in a SilentError.
func NewSilentError(err error) *SilentError {
	return &SilentError{Err: err}
}

func (e *SilentError) Error() string {
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err for telemetry and scripting. It never includes
// paths or ids.
func ErrorKind(err error) string {
	var (
		conflictErr *shadow.ConflictError
		redoErr     *shadow.AmbiguousRedoError
		boundaryErr *shadow.CheckpointBoundaryError
		corruptErr  *shadow.CorruptHistoryError
		ioErr       *shadow.IOError
		liveErr     *shadow.LiveDescendantsError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflictErr):
		return "conflict"
	case errors.As(err, &redoErr):
		return "ambiguous_redo"
	case errors.As(err, &boundaryErr):
		return "checkpoint_boundary"
	case errors.As(err, &corruptErr):
		return "corrupt_history"
	case errors.As(err, &ioErr):
		return "io"
	case errors.As(err, &liveErr):
		return "live_descendants"
	case errors.Is(err, shadow.ErrNoRedoTarget):
		return "no_redo_target"
	case errors.Is(err, shadow.ErrNothingToUndo):
		return "nothing_to_undo"
	case errors.Is(err, shadow.ErrCommitNotFound), errors.Is(err, shadow.ErrAmbiguousRef):
		return "bad_ref"
	case errors.Is(err, shadow.ErrDisabled):
		return "disabled"
	case errors.Is(err, shadow.ErrInvalidEdit), errors.Is(err, engine.ErrInvalidOptions):
		return "invalid"
	case errors.Is(err, lock.ErrFileLocked):
		return "locked"
	default:
		return "error"
	}
}

// reportError prints a user-facing explanation for the typed errors that
// need more than a one-line message and returns a SilentError for them.
// Other errors are returned unchanged for main to print.
func reportError(w io.Writer, err error) error {
	var (
		conflictErr *shadow.ConflictError
		redoErr     *shadow.AmbiguousRedoError
		boundaryErr *shadow.CheckpointBoundaryError
		corruptErr  *shadow.CorruptHistoryError
		liveErr     *shadow.LiveDescendantsError
	)
	switch {
	case errors.As(err, &conflictErr):
		fmt.Fprintln(w, "Files were modified outside moss:")
		for _, c := range conflictErr.Conflicts {
			fmt.Fprintf(w, "  %s\n", c.Path)
		}
		fmt.Fprintln(w, "\nNothing was changed. Re-run with --force to overwrite them.")
	case errors.As(err, &redoErr):
		fmt.Fprintln(w, "Head has several redo branches; pick one:")
		for _, c := range redoErr.Candidates {
			fmt.Fprintf(w, "  moss redo %s\n", shadow.ShortHash(c))
		}
	case errors.As(err, &boundaryErr):
		fmt.Fprintf(w, "%s is behind the checkpoint at %s (a real commit happened since).\n",
			shadow.ShortHash(boundaryErr.Target), shadow.ShortHash(boundaryErr.Checkpoint))
		fmt.Fprintln(w, "Re-run with --cross-checkpoint to go past it.")
	case errors.As(err, &corruptErr):
		fmt.Fprintf(w, "Shadow history is damaged: %s\n", corruptErr.Reason)
		fmt.Fprintln(w, "It is read-only until repaired; history, show and status still work.")
	case errors.As(err, &liveErr):
		fmt.Fprintf(w, "Head descends from %s. Re-run with --yes to move head to its parent and prune it.\n",
			shadow.ShortHash(liveErr.Commit))
	case errors.Is(err, shadow.ErrDisabled):
		fmt.Fprintln(w, "Shadow history is disabled for this worktree (run `moss enable`).")
	case errors.Is(err, lock.ErrFileLocked):
		fmt.Fprintln(w, "Another moss process is using this worktree's history; try again.")
	default:
		return err
	}
	return NewSilentError(err)
}

// joinPaths formats a short path list for messages.
func joinPaths(paths []string) string {
	const maxShown = 5
	if len(paths) <= maxShown {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:maxShown], ", "), len(paths)-maxShown)
}
