package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/conflict"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// fileWrite moves one working file from Expected to Target.
// ZeroHash on either side means the file is absent.
type fileWrite struct {
	Path     string
	Expected plumbing.Hash
	Target   plumbing.Hash
}

// planTransition computes the net per-file writes that take the worktree from
// the state recorded at from to the state recorded at to. Files not touched
// between the two commits are left alone.
func (e *Engine) planTransition(from, to plumbing.Hash) []fileWrite {
	lca := e.repo.CommonAncestor(from, to)

	// down: from back to lca, newest first. up: lca to to, newest first.
	var down, up []*shadow.Commit
	for _, id := range e.repo.Ancestors(from) {
		if id == lca {
			break
		}
		c, _ := e.repo.Commit(id)
		down = append(down, c)
	}
	for _, id := range e.repo.Ancestors(to) {
		if id == lca {
			break
		}
		c, _ := e.repo.Commit(id)
		up = append(up, c)
	}

	type state struct {
		expected, target plumbing.Hash
		haveExpected     bool
	}
	states := make(map[string]*state)
	get := func(path string) *state {
		s := states[path]
		if s == nil {
			s = &state{}
			states[path] = s
		}
		return s
	}

	// Newest down commit gives the current content; oldest gives the lca
	// content, used when the target side never touched the file.
	for _, c := range down {
		for _, f := range c.Files {
			s := get(f.Path)
			if !s.haveExpected {
				s.expected, s.haveExpected = f.After, true
			}
			s.target = f.Before
		}
	}
	upTarget := make(map[string]plumbing.Hash)
	upBefore := make(map[string]plumbing.Hash)
	for _, c := range up {
		for _, f := range c.Files {
			if _, ok := upTarget[f.Path]; !ok {
				upTarget[f.Path] = f.After
			}
			upBefore[f.Path] = f.Before
		}
	}
	for path, after := range upTarget {
		s := get(path)
		s.target = after
		if !s.haveExpected {
			s.expected, s.haveExpected = upBefore[path], true
		}
	}

	plan := make([]fileWrite, 0, len(states))
	for path, s := range states {
		plan = append(plan, fileWrite{Path: path, Expected: s.expected, Target: s.target})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Path < plan[j].Path })
	return plan
}

// appliedPlan remembers what a write replaced so it can be undone.
type appliedPlan struct {
	root     string
	pending  []fileWrite
	contents map[string][]byte
	written  []string
	previous map[string][]byte
	existed  map[string]bool
	changed  []string
	forced   []string
}

// preparePlan checks every file and loads everything the writes need, without
// touching the worktree. Without force any mismatch is a *shadow.ConflictError.
func (e *Engine) preparePlan(ctx context.Context, plan []fileWrite, force bool) (*appliedPlan, error) {
	applied := &appliedPlan{
		root:     e.repo.WorktreeRoot(),
		contents: make(map[string][]byte),
		previous: make(map[string][]byte),
		existed:  make(map[string]bool),
	}

	expected := make(map[string]plumbing.Hash)
	var order []string
	for _, w := range plan {
		if w.Expected == w.Target {
			continue
		}
		applied.pending = append(applied.pending, w)
		expected[w.Path] = w.Expected
		order = append(order, w.Path)
	}
	if len(applied.pending) == 0 {
		return applied, nil
	}

	_, err := e.detector.CheckAll(expected, order)
	var conflictErr *shadow.ConflictError
	switch {
	case errors.As(err, &conflictErr) && force:
		for _, c := range conflictErr.Conflicts {
			applied.forced = append(applied.forced, c.Path)
		}
		logging.Warn(ctx, "overwriting modified files", slog.Any("paths", applied.forced))
	case err != nil:
		return nil, err
	}

	for _, w := range applied.pending {
		data, err := e.repo.ReadBlob(w.Target)
		if err != nil {
			return nil, err
		}
		applied.contents[w.Path] = data

		current, exists, err := conflict.ReadWorkingFile(applied.root, w.Path)
		if err != nil {
			return nil, &shadow.IOError{Op: "read", Path: w.Path, Err: err}
		}
		applied.previous[w.Path] = current
		applied.existed[w.Path] = exists
	}
	return applied, nil
}

// write performs the prepared writes. A failed write restores the files
// already written and returns *shadow.IOError; it is not retried.
func (a *appliedPlan) write(ctx context.Context) error {
	for _, w := range a.pending {
		a.written = append(a.written, w.Path)
		if err := writeWorkingFile(a.root, w.Path, a.contents[w.Path], w.Target != plumbing.ZeroHash); err != nil {
			a.rollback(ctx)
			return &shadow.IOError{Op: "write", Path: w.Path, Err: err}
		}
		a.changed = append(a.changed, w.Path)
	}
	return nil
}

// rollback restores every written file to its content before write.
func (a *appliedPlan) rollback(ctx context.Context) {
	for i := len(a.written) - 1; i >= 0; i-- {
		path := a.written[i]
		if err := writeWorkingFile(a.root, path, a.previous[path], a.existed[path]); err != nil {
			logging.Error(ctx, "failed to roll back working file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	a.changed = nil
}

// writeWorkingFile replaces or removes a working file. Content is written to
// a temp file in the same directory and renamed into place; an existing
// file's permissions are kept.
func writeWorkingFile(root, path string, content []byte, exists bool) error {
	full := filepath.Join(root, filepath.FromSlash(path))
	if !exists {
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // working tree directories
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".moss-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// moveHead applies plan and then points head at target. If moving head fails
// the working files are rolled back.
func (e *Engine) moveHead(ctx context.Context, target plumbing.Hash, plan []fileWrite, force bool) (NavResult, error) {
	from := e.repo.Head()
	applied, err := e.preparePlan(ctx, plan, force)
	if err != nil {
		return NavResult{}, err
	}
	if err := applied.write(ctx); err != nil {
		return NavResult{}, err
	}
	if err := e.repo.SetHead(ctx, target); err != nil {
		applied.rollback(ctx)
		return NavResult{}, err
	}
	return NavResult{From: from, To: target, Changed: applied.changed, Forced: applied.forced}, nil
}

// commitAndAdvance writes c as a child of head, applies plan and moves head
// to the new commit, in that order: a crash leaves at most an unreferenced
// leaf, never working files no commit describes. On failure the working files
// are rolled back, the new commit is removed and head is unchanged.
func (e *Engine) commitAndAdvance(ctx context.Context, c *shadow.Commit, plan []fileWrite, force bool) (plumbing.Hash, *appliedPlan, error) {
	applied, err := e.preparePlan(ctx, plan, force)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	id, err := e.repo.WriteCommit(ctx, c)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	if err := applied.write(ctx); err != nil {
		e.dropOrphan(ctx, id)
		return plumbing.ZeroHash, nil, err
	}
	if err := e.repo.SetHead(ctx, id); err != nil {
		applied.rollback(ctx)
		e.dropOrphan(ctx, id)
		return plumbing.ZeroHash, nil, err
	}
	return id, applied, nil
}

// dropOrphan removes a commit head never pointed at.
func (e *Engine) dropOrphan(ctx context.Context, id plumbing.Hash) {
	if _, err := e.repo.RemoveSubtree(ctx, id); err != nil {
		logging.Warn(ctx, "failed to remove orphaned commit",
			slog.String("commit", shadow.ShortHash(id)),
			slog.String("error", err.Error()),
		)
	}
}
