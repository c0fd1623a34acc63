package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/conflict"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/validation"
	"github.com/rhizome-lab/moss-sub000/redact"
)

// RecordEdit commits one edit of one or more files as a single shadow commit
// and advances head to it. The new commit's parent is head at call time, so
// recording after an undo forks the history.
//
// For every file the pre-image the editor saw (diff.Before) is compared with
// what the shadow history last recorded for it. A mismatch is accepted as a
// re-sync when the real VCS HEAD moved since those files were last recorded
// (the commit is flagged as a checkpoint); otherwise it is a
// *shadow.ConflictError unless meta.Force is set. Working files must hold
// After (or Before when meta.Apply is set, in which case RecordEdit writes
// After itself).
//
// Either every file is recorded and head advances once, or nothing changes.
// On a disabled handle RecordEdit does nothing and returns ZeroHash.
func (e *Engine) RecordEdit(ctx context.Context, op shadow.Operation, targets []string, diffs []FileDiff, meta EditMetadata) (plumbing.Hash, error) {
	if !e.repo.Enabled() {
		logging.Debug(ctx, "shadow tracking disabled, edit not recorded", slog.Int("files", len(diffs)))
		return plumbing.ZeroHash, nil
	}
	if err := validateEdit(op, diffs); err != nil {
		return plumbing.ZeroHash, err
	}

	var id plumbing.Hash
	err := e.mutate(ctx, "record edit", func(ctx context.Context) error {
		var err error
		id, err = e.recordLocked(ctx, op, targets, diffs, meta)
		return err
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return id, nil
}

func validateEdit(op shadow.Operation, diffs []FileDiff) error {
	if _, err := shadow.ParseOperation(string(op)); err != nil {
		return fmt.Errorf("%w: %w", shadow.ErrInvalidEdit, err)
	}
	if len(diffs) == 0 {
		return fmt.Errorf("%w: no files", shadow.ErrInvalidEdit)
	}
	seen := make(map[string]bool, len(diffs))
	for _, d := range diffs {
		if err := validation.ValidateTrackedPath(d.Path); err != nil {
			return fmt.Errorf("%w: %w", shadow.ErrInvalidEdit, err)
		}
		if paths.IsInfrastructurePath(d.Path) {
			return fmt.Errorf("%w: %s is moss or VCS state", shadow.ErrInvalidEdit, d.Path)
		}
		if seen[d.Path] {
			return fmt.Errorf("%w: %s appears twice", shadow.ErrInvalidEdit, d.Path)
		}
		seen[d.Path] = true
		if !d.BeforeExists && !d.AfterExists {
			return fmt.Errorf("%w: %s is absent before and after", shadow.ErrInvalidEdit, d.Path)
		}
	}
	return nil
}

func (e *Engine) recordLocked(ctx context.Context, op shadow.Operation, targets []string, diffs []FileDiff, meta EditMetadata) (plumbing.Hash, error) {
	if _, err := e.ensureRoot(ctx); err != nil {
		return plumbing.ZeroHash, err
	}
	head := e.repo.Head()

	files := make([]string, 0, len(diffs))
	for _, d := range diffs {
		files = append(files, d.Path)
	}

	// Pre-image: what the editor started from vs. what the history recorded.
	var diverged []shadow.FileConflict
	for _, d := range diffs {
		want, tracked := e.repo.ExpectedState(head, d.Path)
		if !tracked {
			continue
		}
		got := conflict.ExpectedHash(d.Before, d.BeforeExists)
		if got == want || e.sameNormalized(want, d.Before, d.BeforeExists) {
			continue
		}
		diverged = append(diverged, shadow.FileConflict{Path: d.Path, Expected: want, Actual: got})
	}

	report, err := e.monitor.CheckDivergence(ctx, files)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	isCheckpoint := report.Changed && report.NewRealVCSHead != ""

	resync := false
	if len(diverged) > 0 {
		switch {
		case report.Changed:
			resync = true
			logging.Info(ctx, "re-syncing baseline after real VCS change",
				slog.String("previous_real_head", report.PreviousRealVCSHead),
				slog.String("real_head", report.NewRealVCSHead),
				slog.Int("files", len(diverged)),
			)
		case meta.Force:
			resync = true
			logging.Warn(ctx, "recording over externally modified files", slog.Int("files", len(diverged)))
		default:
			return plumbing.ZeroHash, &shadow.ConflictError{Conflicts: diverged}
		}
	}

	// On-disk state must match what the caller claims.
	if !meta.Force {
		expected := make(map[string]plumbing.Hash, len(diffs))
		for _, d := range diffs {
			if meta.Apply {
				expected[d.Path] = conflict.ExpectedHash(d.Before, d.BeforeExists)
			} else {
				expected[d.Path] = conflict.ExpectedHash(d.After, d.AfterExists)
			}
		}
		if _, err := e.detector.CheckAll(expected, files); err != nil {
			return plumbing.ZeroHash, err
		}
	}

	// Objects first.
	changes := make([]shadow.FileChange, 0, len(diffs))
	var plan []fileWrite
	for _, d := range diffs {
		fc := shadow.FileChange{Path: d.Path}
		if d.BeforeExists {
			if fc.Before, err = e.repo.WriteBlob(d.Before); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		if d.AfterExists {
			if fc.After, err = e.repo.WriteBlob(d.After); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		changes = append(changes, fc)
		if meta.Apply {
			plan = append(plan, fileWrite{Path: d.Path, Expected: fc.Before, Target: fc.After})
		}
	}

	if len(targets) == 0 {
		targets = files
	}
	c := &shadow.Commit{
		Parent:      head,
		Operation:   op,
		Targets:     append([]string(nil), targets...),
		Files:       changes,
		Message:     redact.String(meta.Message),
		Workflow:    redact.String(meta.Workflow),
		RealVCSHead: report.NewRealVCSHead,
		Checkpoint:  isCheckpoint,
		Resync:      resync,
		Timestamp:   e.now(),
	}
	// The disk was checked above; force skips the second check in preparePlan.
	id, _, err := e.commitAndAdvance(ctx, c, plan, true)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	logging.Info(ctx, "edit recorded",
		slog.String("commit", shadow.ShortHash(id)),
		slog.String("operation", string(op)),
		slog.Int("files", len(diffs)),
		slog.Bool("checkpoint", isCheckpoint),
		slog.Bool("fork", len(e.repo.Children(head)) > 1),
	)

	if e.afterRecord != nil {
		if err := e.afterRecord(ctx, e.repo); err != nil {
			logging.Warn(ctx, "post-record hook failed", slog.String("error", err.Error()))
		}
	}
	return id, nil
}

// sameNormalized reports whether content equals the blob want once line
// endings are normalized, when normalization is enabled.
func (e *Engine) sameNormalized(want plumbing.Hash, content []byte, exists bool) bool {
	if !e.settings.NormalizeLineEndings || !exists || want == plumbing.ZeroHash {
		return false
	}
	stored, err := e.repo.ReadBlob(want)
	if err != nil {
		return false
	}
	crlf, lf := []byte("\r\n"), []byte("\n")
	return bytes.Equal(bytes.ReplaceAll(stored, crlf, lf), bytes.ReplaceAll(content, crlf, lf))
}

// RecordSnapshot reads files from disk and records them in one critical
// section, so head cannot move between the snapshot and the record. prepare
// filters the diffs and picks the operation; when it returns no diffs nothing
// is recorded. The diffs that were recorded are returned with the commit.
func (e *Engine) RecordSnapshot(ctx context.Context, files, targets []string, meta EditMetadata, prepare func([]FileDiff) (shadow.Operation, []FileDiff, error)) (plumbing.Hash, []FileDiff, error) {
	if !e.repo.Enabled() {
		logging.Debug(ctx, "shadow tracking disabled, snapshot not recorded", slog.Int("files", len(files)))
		return plumbing.ZeroHash, nil, nil
	}

	var (
		id       plumbing.Hash
		recorded []FileDiff
	)
	err := e.mutate(ctx, "record snapshot", func(ctx context.Context) error {
		diffs, err := e.snapshotDiffs(ctx, files)
		if err != nil {
			return err
		}
		op, diffs, err := prepare(diffs)
		if err != nil || len(diffs) == 0 {
			return err
		}
		if err := validateEdit(op, diffs); err != nil {
			return err
		}
		if id, err = e.recordLocked(ctx, op, targets, diffs, meta); err != nil {
			return err
		}
		recorded = diffs
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return id, recorded, nil
}

// snapshotDiffs builds diffs for files already edited on disk. The before side
// is what the shadow history expects on head's path, falling back to the
// file at the real VCS HEAD, else absent.
func (e *Engine) snapshotDiffs(ctx context.Context, files []string) ([]FileDiff, error) {
	diffs := make([]FileDiff, 0, len(files))
	for _, p := range files {
		d := FileDiff{Path: p}

		after, exists, err := conflict.ReadWorkingFile(e.repo.WorktreeRoot(), p)
		if err != nil {
			return nil, err
		}
		d.After, d.AfterExists = after, exists

		if want, tracked := e.repo.ExpectedState(e.repo.Head(), p); tracked {
			if d.Before, err = e.repo.ReadBlob(want); err != nil {
				return nil, err
			}
			d.BeforeExists = want != plumbing.ZeroHash
		} else if d.Before, d.BeforeExists, err = e.resolver.FileAtHead(ctx, p); err != nil {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}
