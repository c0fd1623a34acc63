package engine

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/conflict"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/validation"
)

// History lists commits oldest first. By default only head's path from the
// root is listed; opts.AllBranches lists every commit in sequence order.
func (e *Engine) History(ctx context.Context, opts HistoryOptions) ([]CommitSummary, error) {
	if opts.Path != "" {
		if err := validation.ValidateTrackedPath(opts.Path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	var out []CommitSummary
	err := e.view(ctx, "history", func(context.Context) error {
		head := e.repo.Head()
		var commits []*shadow.Commit
		if opts.AllBranches {
			commits = e.repo.Commits()
		} else {
			for _, id := range e.repo.PathFromRoot(head) {
				c, err := e.repo.Commit(id)
				if err != nil {
					return err
				}
				commits = append(commits, c)
			}
		}
		for _, c := range commits {
			if opts.Path != "" && !c.Touches(opts.Path) {
				continue
			}
			out = append(out, summarize(c, head, len(e.repo.Children(c.ID))))
		}
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[len(out)-opts.Limit:]
		}
		return nil
	})
	return out, err
}

// Status summarizes head, checkpoints and local modifications.
func (e *Engine) Status(ctx context.Context) (StatusResult, error) {
	res := StatusResult{Enabled: e.repo.Enabled()}
	if !res.Enabled {
		return res, nil
	}
	err := e.view(ctx, "status", func(ctx context.Context) error {
		if err := e.repo.Corrupt(); err != nil {
			res.Corrupt = err.Error()
		}
		realHead, err := e.resolver.RealHead(ctx)
		if err != nil {
			return fmt.Errorf("resolving real HEAD: %w", err)
		}
		res.RealVCSHead = realHead

		head := e.repo.HeadCommit()
		if head == nil {
			return nil
		}
		res.Head = head.ID.String()
		res.RealHeadDiverged = head.RealVCSHead != realHead

		last := e.monitor.LastCheckpoint()
		if last != plumbing.ZeroHash {
			res.LastCheckpoint = last.String()
		}
		for _, id := range e.repo.Ancestors(head.ID) {
			if id == last || id == e.repo.Root() {
				break
			}
			res.UncommittedSinceCheckpoint++
		}

		for _, p := range e.repo.TrackedPaths(head.ID) {
			want, _ := e.repo.ExpectedState(head.ID, p)
			r, err := e.detector.Check(p, want)
			if err != nil {
				return err
			}
			if r.Status == conflict.Diverged {
				res.Modified = append(res.Modified, p)
			}
		}
		return nil
	})
	return res, err
}

// Hunks lists the changed regions of path across the last count commits on
// head's path, numbered the way Undo with GranularityHunk expects.
func (e *Engine) Hunks(ctx context.Context, path string, count int) ([]Hunk, error) {
	if err := validation.ValidateTrackedPath(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if count <= 0 {
		count = 1
	}
	var hunks []Hunk
	err := e.view(ctx, "hunks", func(context.Context) error {
		commits, _, err := e.undoRange(count)
		if err != nil {
			return err
		}
		before, after, _ := rangeStates(commits)
		current, ok := after[path]
		if !ok {
			return nil
		}
		oldContent, err := e.repo.ReadBlob(before[path])
		if err != nil {
			return err
		}
		newContent, err := e.repo.ReadBlob(current)
		if err != nil {
			return err
		}
		if isBinary(oldContent) || isBinary(newContent) {
			return fmt.Errorf("%w: %s is binary", ErrInvalidOptions, path)
		}
		hunks = computeHunks(lineDiff(string(oldContent), string(newContent)))
		return nil
	})
	return hunks, err
}

// ShowResult is a commit with its rendered diff.
type ShowResult struct {
	Commit CommitSummary `json:"commit"`
	Diff   string        `json:"diff"`
}

// Show resolves ref and renders the commit's changes as a unified diff.
func (e *Engine) Show(ctx context.Context, ref string) (ShowResult, error) {
	var res ShowResult
	err := e.view(ctx, "show", func(context.Context) error {
		id, err := e.repo.ResolveRef(ref)
		if err != nil {
			return err
		}
		c, err := e.repo.Commit(id)
		if err != nil {
			return err
		}
		res.Commit = summarize(c, e.repo.Head(), len(e.repo.Children(id)))

		fds := make([]*godiff.FileDiff, 0, len(c.Files))
		for _, f := range c.Files {
			oldContent, err := e.repo.ReadBlob(f.Before)
			if err != nil {
				return err
			}
			newContent, err := e.repo.ReadBlob(f.After)
			if err != nil {
				return err
			}
			fds = append(fds, unifiedFileDiff(f.Path, oldContent, newContent,
				f.Before != plumbing.ZeroHash, f.After != plumbing.ZeroHash))
		}
		out, err := godiff.PrintMultiFileDiff(fds)
		if err != nil {
			return fmt.Errorf("rendering diff: %w", err)
		}
		res.Diff = string(out)
		return nil
	})
	return res, err
}
