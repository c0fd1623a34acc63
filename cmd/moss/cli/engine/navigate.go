package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/validation"
)

// ErrInvalidOptions is returned for option combinations that cannot work.
var ErrInvalidOptions = errors.New("invalid options")

// PartialUndoWorkflow tags corrective commits created by partial undos.
const PartialUndoWorkflow = "partial-undo"

// Undo steps back opts.Count commits.
//
// At commit granularity with no paths head moves to the ancestor and every
// file touched in between is restored; the undone commits stay in the tree.
// With paths or a finer granularity nothing moves backwards: a corrective
// commit restoring only the selected files, hunks or lines is added as a new
// child of head.
func (e *Engine) Undo(ctx context.Context, opts UndoOptions) (UndoResult, error) {
	if opts.Count == 0 {
		opts.Count = 1
	}
	if opts.Count < 0 {
		return UndoResult{}, fmt.Errorf("%w: count must be positive", ErrInvalidOptions)
	}
	if opts.Granularity == "" {
		opts.Granularity = GranularityCommit
	}
	if opts.Granularity == GranularityCommit && len(opts.Paths) > 0 {
		opts.Granularity = GranularityFile
	}
	if err := validateUndo(opts); err != nil {
		return UndoResult{}, err
	}

	var res UndoResult
	err := e.mutate(ctx, "undo", func(ctx context.Context) error {
		var err error
		if opts.Granularity == GranularityCommit {
			res, err = e.undoCommits(ctx, opts)
		} else {
			res, err = e.undoPartial(ctx, opts)
		}
		return err
	})
	return res, err
}

func validateUndo(opts UndoOptions) error {
	for _, p := range opts.Paths {
		if err := validation.ValidateTrackedPath(p); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	switch opts.Granularity {
	case GranularityHunk, GranularityLineRange:
		if len(opts.Paths) != 1 {
			return fmt.Errorf("%w: %s undo needs exactly one path", ErrInvalidOptions, opts.Granularity)
		}
	}
	switch opts.Granularity {
	case GranularityHunk:
		if len(opts.Hunks) == 0 {
			return fmt.Errorf("%w: hunk undo needs at least one hunk number", ErrInvalidOptions)
		}
	case GranularityLineRange:
		if opts.Lines.Start < 1 || opts.Lines.End < opts.Lines.Start {
			return fmt.Errorf("%w: invalid line range %d-%d", ErrInvalidOptions, opts.Lines.Start, opts.Lines.End)
		}
	}
	return nil
}

// undoRange returns the commits being undone, newest first, and the
// ancestor the undo returns to.
func (e *Engine) undoRange(count int) ([]*shadow.Commit, plumbing.Hash, error) {
	head, err := e.requireHead()
	if err != nil {
		return nil, plumbing.ZeroHash, err
	}
	anc := e.repo.Ancestors(head.ID)
	if count >= len(anc) {
		return nil, plumbing.ZeroHash, fmt.Errorf("cannot undo %d commit(s), %d recorded: %w", count, len(anc)-1, shadow.ErrNothingToUndo)
	}
	commits := make([]*shadow.Commit, 0, count)
	for _, id := range anc[:count] {
		c, err := e.repo.Commit(id)
		if err != nil {
			return nil, plumbing.ZeroHash, err
		}
		commits = append(commits, c)
	}
	return commits, anc[count], nil
}

func (e *Engine) undoCommits(ctx context.Context, opts UndoOptions) (UndoResult, error) {
	_, target, err := e.undoRange(opts.Count)
	if err != nil {
		return UndoResult{}, err
	}
	if err := e.monitor.EnforceBoundary(ctx, target, e.crossCheckpoint(opts.CrossCheckpoint)); err != nil {
		return UndoResult{}, err
	}
	nav, err := e.moveHead(ctx, target, e.planTransition(e.repo.Head(), target), opts.Force)
	if err != nil {
		return UndoResult{}, err
	}
	logging.Info(ctx, "undo applied",
		slog.String("from", shadow.ShortHash(nav.From)),
		slog.String("to", shadow.ShortHash(nav.To)),
		slog.Int("files", len(nav.Changed)),
	)
	return UndoResult{NavResult: nav, Granularity: GranularityCommit}, nil
}

// rangeStates returns, for every file touched by commits (newest first), the
// content before the oldest commit and after the newest one, plus the paths
// in first-seen order.
func rangeStates(commits []*shadow.Commit) (before, after map[string]plumbing.Hash, order []string) {
	before = make(map[string]plumbing.Hash)
	after = make(map[string]plumbing.Hash)
	for _, c := range commits {
		for _, f := range c.Files {
			if _, ok := after[f.Path]; !ok {
				after[f.Path] = f.After
				order = append(order, f.Path)
			}
			before[f.Path] = f.Before
		}
	}
	return before, after, order
}

func (e *Engine) undoPartial(ctx context.Context, opts UndoOptions) (UndoResult, error) {
	commits, base, err := e.undoRange(opts.Count)
	if err != nil {
		return UndoResult{}, err
	}
	before, after, order := rangeStates(commits)

	selected := order
	if len(opts.Paths) > 0 {
		selected = opts.Paths
		for _, p := range selected {
			if _, ok := after[p]; !ok {
				return UndoResult{}, fmt.Errorf("%s was not changed by the last %d commit(s): %w", p, opts.Count, shadow.ErrNothingToUndo)
			}
		}
	}

	head := e.repo.Head()
	var (
		changes []shadow.FileChange
		plan    []fileWrite
	)
	for _, p := range selected {
		current := after[p]
		target := before[p]
		if opts.Granularity == GranularityHunk || opts.Granularity == GranularityLineRange {
			if target, err = e.revertWithinFile(p, before[p], current, opts); err != nil {
				return UndoResult{}, err
			}
		}
		if target == current {
			continue
		}
		changes = append(changes, shadow.FileChange{Path: p, Before: current, After: target})
		plan = append(plan, fileWrite{Path: p, Expected: current, Target: target})
	}
	if len(changes) == 0 {
		return UndoResult{}, fmt.Errorf("selection changes nothing: %w", shadow.ErrNothingToUndo)
	}

	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	report, err := e.monitor.CheckDivergence(ctx, paths)
	if err != nil {
		return UndoResult{}, err
	}

	c := &shadow.Commit{
		Parent:      head,
		Operation:   shadow.OpReplace,
		Targets:     paths,
		Files:       changes,
		Message:     fmt.Sprintf("undo %s of %s back to %s", opts.Granularity, strings.Join(paths, ", "), shadow.ShortHash(base)),
		Workflow:    PartialUndoWorkflow,
		RealVCSHead: report.NewRealVCSHead,
		Checkpoint:  report.Changed && report.NewRealVCSHead != "",
		Timestamp:   e.now(),
	}
	id, applied, err := e.commitAndAdvance(ctx, c, plan, opts.Force)
	if err != nil {
		return UndoResult{}, err
	}
	logging.Info(ctx, "partial undo applied",
		slog.String("granularity", string(opts.Granularity)),
		slog.String("commit", shadow.ShortHash(id)),
		slog.Any("paths", paths),
	)
	return UndoResult{
		NavResult:   NavResult{From: head, To: id, Changed: applied.changed, Forced: applied.forced},
		Granularity: opts.Granularity,
		Corrective:  true,
	}, nil
}

// revertWithinFile returns a blob holding current with the selected hunks
// restored to their content in old.
func (e *Engine) revertWithinFile(path string, old, current plumbing.Hash, opts UndoOptions) (plumbing.Hash, error) {
	oldContent, err := e.repo.ReadBlob(old)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	newContent, err := e.repo.ReadBlob(current)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s is binary, use file granularity", ErrInvalidOptions, path)
	}

	ops := lineDiff(string(oldContent), string(newContent))
	hunks := computeHunks(ops)
	if len(hunks) == 0 {
		return current, nil
	}

	var sel map[int]bool
	if opts.Granularity == GranularityHunk {
		sel = make(map[int]bool, len(opts.Hunks))
		for _, n := range opts.Hunks {
			if n < 1 || n > len(hunks) {
				return plumbing.ZeroHash, fmt.Errorf("%w: %s has %d hunk(s), no hunk %d", ErrInvalidOptions, path, len(hunks), n)
			}
			sel[n] = true
		}
	} else {
		sel = hunksInLineRange(hunks, opts.Lines.Start, opts.Lines.End)
		if len(sel) == 0 {
			return current, nil
		}
	}

	result := revertHunks(ops, hunks, sel)
	if current == plumbing.ZeroHash && result == "" {
		return plumbing.ZeroHash, nil
	}
	return e.repo.WriteBlob([]byte(result))
}

// Redo moves head to one of its children. With a single child no selector is
// needed; with several, opts.Selector must pick one by id prefix.
func (e *Engine) Redo(ctx context.Context, opts RedoOptions) (RedoResult, error) {
	var res RedoResult
	err := e.mutate(ctx, "redo", func(ctx context.Context) error {
		head, err := e.requireHead()
		if err != nil {
			return err
		}
		target, err := e.redoTarget(head.ID, opts.Selector)
		if err != nil {
			return err
		}
		res, err = e.MoveHeadLocked(ctx, target, GotoOptions{Force: opts.Force, CrossCheckpoint: opts.CrossCheckpoint})
		return err
	})
	return res, err
}

func (e *Engine) redoTarget(head plumbing.Hash, selector string) (plumbing.Hash, error) {
	children := e.repo.Children(head)
	if len(children) == 0 {
		return plumbing.ZeroHash, shadow.ErrNoRedoTarget
	}
	if selector == "" {
		if len(children) > 1 {
			return plumbing.ZeroHash, &shadow.AmbiguousRedoError{Candidates: children}
		}
		return children[0], nil
	}

	selector = strings.ToLower(selector)
	if err := validation.ValidateCommitRef(selector); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	var matches []plumbing.Hash
	for _, c := range children {
		if strings.HasPrefix(c.String(), selector) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return plumbing.ZeroHash, fmt.Errorf("%s is not a child of head: %w", selector, shadow.ErrCommitNotFound)
	case 1:
		return matches[0], nil
	default:
		return plumbing.ZeroHash, &shadow.AmbiguousRedoError{Candidates: matches}
	}
}

// Goto moves head to any commit and restores every file touched between head
// and the target to the target's recorded state. Untouched files are left
// alone.
func (e *Engine) Goto(ctx context.Context, ref string, opts GotoOptions) (GotoResult, error) {
	var res GotoResult
	err := e.mutate(ctx, "goto", func(ctx context.Context) error {
		if _, err := e.requireHead(); err != nil {
			return err
		}
		target, err := e.repo.ResolveRef(ref)
		if err != nil {
			return err
		}
		res, err = e.MoveHeadLocked(ctx, target, opts)
		return err
	})
	return res, err
}

// MoveHeadLocked moves head to target with boundary and conflict checks. The
// caller must be running inside Locked.
func (e *Engine) MoveHeadLocked(ctx context.Context, target plumbing.Hash, opts GotoOptions) (NavResult, error) {
	head := e.repo.Head()
	if _, err := e.repo.Commit(target); err != nil {
		return NavResult{}, err
	}
	if target == head {
		return NavResult{From: head, To: head}, nil
	}
	if err := e.monitor.EnforceBoundary(ctx, target, e.crossCheckpoint(opts.CrossCheckpoint)); err != nil {
		return NavResult{}, err
	}
	nav, err := e.moveHead(ctx, target, e.planTransition(head, target), opts.Force)
	if err != nil {
		return NavResult{}, err
	}
	logging.Info(ctx, "head moved",
		slog.String("from", shadow.ShortHash(nav.From)),
		slog.String("to", shadow.ShortHash(nav.To)),
		slog.Int("files", len(nav.Changed)),
		slog.Int("forced", len(nav.Forced)),
	)
	return nav, nil
}

// Locked runs fn under the store lock on freshly loaded history. Pruning uses
// it to combine head moves and removals in one critical section.
func (e *Engine) Locked(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.mutate(ctx, op, fn)
}
