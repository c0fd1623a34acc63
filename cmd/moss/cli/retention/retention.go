// Package retention removes dead branches from shadow history: explicitly
// named commits, branches touching a path, and branches older than the
// retention window. Ancestors of head are never removed.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/registry"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/validation"
)

// Scope selects which stores an operation touches.
type Scope string

const (
	ScopeWorktree     Scope = "worktree"
	ScopeAllWorktrees Scope = "all-worktrees"
)

// ParseScope converts a user-supplied scope name. Empty means ScopeWorktree.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeWorktree:
		return ScopeWorktree, nil
	case ScopeAllWorktrees:
		return ScopeAllWorktrees, nil
	default:
		return "", fmt.Errorf("unknown scope %q (want worktree or all-worktrees)", s)
	}
}

// AutoInterval is the minimum time between automatic retention runs.
const AutoInterval = 24 * time.Hour

// ErrNothingSelected is returned when a prune names neither commits nor a path.
var ErrNothingSelected = errors.New("nothing to prune: name commits or a path")

// PruneOptions configures Prune. Exactly one of Commits and Path is used.
type PruneOptions struct {
	// Commits are refs whose subtrees are removed. Always local to the
	// current worktree.
	Commits []string

	// Path removes every dead branch whose first commit touches the file.
	Path string

	Scope Scope

	// Confirm allows pruning a commit that head descends from: head first
	// moves to the commit's parent.
	Confirm bool

	// Force overwrites modified working files when Confirm moves head.
	Force bool
}

// PruneResult reports what was removed from one store.
type PruneResult struct {
	Worktree string   `json:"worktree"`
	Removed  []string `json:"removed,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
	HeadMove string   `json:"head_moved_to,omitempty"`
}

// WorktreeLister finds sibling worktrees.
type WorktreeLister interface {
	Worktrees(ctx context.Context, repoID string) ([]registry.Worktree, error)
}

// Pruner runs prunes on the current worktree and, for ScopeAllWorktrees, on
// every registered sibling.
type Pruner struct {
	Engine *engine.Engine

	// Registry and RepoID are needed for ScopeAllWorktrees.
	Registry WorktreeLister
	RepoID   string

	// Open returns an engine for a sibling worktree. Defaults to opening its
	// store with its own settings.
	Open func(ctx context.Context, worktree string) (*engine.Engine, error)
}

// Prune removes the selected commits or branches.
func (p *Pruner) Prune(ctx context.Context, opts PruneOptions) ([]PruneResult, error) {
	ctx = logging.WithComponent(ctx, "retention")
	switch {
	case len(opts.Commits) > 0 && opts.Path != "":
		return nil, errors.New("prune takes commits or a path, not both")
	case len(opts.Commits) > 0:
		if opts.Scope == ScopeAllWorktrees {
			return nil, errors.New("commit ids are local to one worktree; prune commits without --all-worktrees")
		}
		res, err := pruneCommits(ctx, p.Engine, opts)
		if err != nil {
			return nil, err
		}
		return []PruneResult{res}, nil
	case opts.Path != "":
		if err := validation.ValidateTrackedPath(opts.Path); err != nil {
			return nil, err
		}
		return p.forEach(ctx, opts.Scope, func(ctx context.Context, eng *engine.Engine) (PruneResult, error) {
			return prunePath(ctx, eng, opts.Path)
		})
	default:
		return nil, ErrNothingSelected
	}
}

// ApplyRetention removes dead branches in which every commit is older than
// days. Zero or negative days disables retention.
func (p *Pruner) ApplyRetention(ctx context.Context, days int, scope Scope) ([]PruneResult, error) {
	if days <= 0 {
		return nil, nil
	}
	ctx = logging.WithComponent(ctx, "retention")
	cutoff := time.Now().Add(-time.Duration(days) * AutoInterval)
	return p.forEach(ctx, scope, func(ctx context.Context, eng *engine.Engine) (PruneResult, error) {
		res := PruneResult{Worktree: eng.Repo().WorktreeRoot()}
		err := eng.Locked(ctx, "retention", func(ctx context.Context) error {
			removed, err := expire(ctx, eng.Repo(), cutoff)
			res.Removed = hashStrings(removed)
			return err
		})
		return res, err
	})
}

// Hook returns an engine AfterRecord hook that runs retention at most once per
// AutoInterval.
func Hook(days int) func(ctx context.Context, repo *shadow.Repository) error {
	return func(ctx context.Context, repo *shadow.Repository) error {
		_, err := MaybeApplyRetention(ctx, repo, days, time.Now())
		return err
	}
}

// MaybeApplyRetention runs retention on repo unless it already ran within
// AutoInterval of now. The caller must hold the store lock. It reports
// whether retention ran.
func MaybeApplyRetention(ctx context.Context, repo *shadow.Repository, days int, now time.Time) (bool, error) {
	if days <= 0 || !repo.Enabled() {
		return false, nil
	}
	stamp := filepath.Join(repo.Dir(), paths.RetentionStampFileName)
	if data, err := os.ReadFile(stamp); err == nil { //nolint:gosec // path inside the store
		if last, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil && now.Sub(last) < AutoInterval {
			return false, nil
		}
	}

	cutoff := now.Add(-time.Duration(days) * AutoInterval)
	if _, err := expire(ctx, repo, cutoff); err != nil {
		return true, err
	}
	if err := os.WriteFile(stamp, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o600); err != nil {
		return true, fmt.Errorf("failed to write retention stamp: %w", err)
	}
	return true, nil
}

// expire removes maximal dead subtrees whose commits all predate cutoff.
func expire(ctx context.Context, repo *shadow.Repository, cutoff time.Time) ([]plumbing.Hash, error) {
	head := repo.Head()
	if head == plumbing.ZeroHash {
		return nil, nil
	}

	var selected []plumbing.Hash
	var collect func(id plumbing.Hash)
	collect = func(id plumbing.Hash) {
		if allBefore(repo, id, cutoff) {
			selected = append(selected, id)
			return
		}
		for _, child := range repo.Children(id) {
			collect(child)
		}
	}
	for _, live := range repo.Ancestors(head) {
		for _, child := range repo.Children(live) {
			if !repo.IsAncestor(child, head) {
				collect(child)
			}
		}
	}

	removed, err := removeAll(ctx, repo, selected)
	if len(removed) > 0 {
		logging.Info(ctx, "retention removed expired branches",
			slog.Int("branches", len(selected)),
			slog.Int("commits", len(removed)),
			slog.Time("cutoff", cutoff),
		)
	}
	return removed, err
}

func allBefore(repo *shadow.Repository, id plumbing.Hash, cutoff time.Time) bool {
	for _, s := range repo.Subtree(id) {
		c, err := repo.Commit(s)
		if err != nil || !c.Timestamp.Before(cutoff) {
			return false
		}
	}
	return true
}

func removeAll(ctx context.Context, repo *shadow.Repository, ids []plumbing.Hash) ([]plumbing.Hash, error) {
	var removed []plumbing.Hash
	for _, id := range ids {
		r, err := repo.RemoveSubtree(ctx, id)
		removed = append(removed, r...)
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func pruneCommits(ctx context.Context, eng *engine.Engine, opts PruneOptions) (PruneResult, error) {
	repo := eng.Repo()
	res := PruneResult{Worktree: repo.WorktreeRoot()}
	err := eng.Locked(ctx, "prune", func(ctx context.Context) error {
		ids := make([]plumbing.Hash, 0, len(opts.Commits))
		for _, ref := range opts.Commits {
			id, err := repo.ResolveRef(ref)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		for _, id := range ids {
			c, err := repo.Commit(id)
			if err != nil {
				// Already removed with an earlier subtree.
				continue
			}
			if c.IsRoot() {
				return shadow.ErrPruneRoot
			}
			if repo.IsAncestor(id, repo.Head()) {
				if !opts.Confirm {
					return &shadow.LiveDescendantsError{Commit: id, Head: repo.Head()}
				}
				nav, err := eng.MoveHeadLocked(ctx, c.Parent, engine.GotoOptions{Force: opts.Force, CrossCheckpoint: true})
				if err != nil {
					return fmt.Errorf("moving head out of %s: %w", c.ShortID(), err)
				}
				res.HeadMove = nav.To.String()
			}
			removed, err := repo.RemoveSubtree(ctx, id)
			res.Removed = append(res.Removed, hashStrings(removed)...)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

func prunePath(ctx context.Context, eng *engine.Engine, path string) (PruneResult, error) {
	repo := eng.Repo()
	res := PruneResult{Worktree: repo.WorktreeRoot()}
	err := eng.Locked(ctx, "prune", func(ctx context.Context) error {
		head := repo.Head()
		chosen := make(map[plumbing.Hash]bool)
		var selected []plumbing.Hash
		for _, c := range repo.Commits() {
			if !c.Touches(path) {
				continue
			}
			if repo.IsAncestor(c.ID, head) {
				res.Skipped = append(res.Skipped, c.ID.String())
				continue
			}
			covered := false
			for _, a := range repo.Ancestors(c.ID) {
				if chosen[a] {
					covered = true
					break
				}
			}
			if !covered {
				chosen[c.ID] = true
				selected = append(selected, c.ID)
			}
		}
		removed, err := removeAll(ctx, repo, selected)
		res.Removed = hashStrings(removed)
		return err
	})
	return res, err
}

// forEach runs fn on the current worktree, and for ScopeAllWorktrees on every
// registered sibling in parallel. Results follow worktree order.
func (p *Pruner) forEach(ctx context.Context, scope Scope, fn func(ctx context.Context, eng *engine.Engine) (PruneResult, error)) ([]PruneResult, error) {
	if scope != ScopeAllWorktrees {
		res, err := fn(ctx, p.Engine)
		if err != nil {
			return nil, err
		}
		return []PruneResult{res}, nil
	}
	if p.Registry == nil || p.RepoID == "" {
		return nil, errors.New("all-worktrees scope needs the worktree registry")
	}

	current := p.Engine.Repo().WorktreeRoot()
	worktrees := []string{current}
	listed, err := p.Registry.Worktrees(ctx, p.RepoID)
	if err != nil {
		return nil, err
	}
	for _, wt := range listed {
		if filepath.Clean(wt.Path) != filepath.Clean(current) {
			worktrees = append(worktrees, wt.Path)
		}
	}

	results := make([]PruneResult, len(worktrees))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, wt := range worktrees {
		g.Go(func() error {
			eng := p.Engine
			if i > 0 {
				var err error
				if eng, err = p.open(gCtx, wt); err != nil {
					return fmt.Errorf("%s: %w", wt, err)
				}
				if !eng.Repo().Enabled() {
					results[i] = PruneResult{Worktree: wt}
					return nil
				}
			}
			res, err := fn(logging.WithWorktree(gCtx, wt), eng)
			if err != nil {
				return fmt.Errorf("%s: %w", wt, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pruner) open(ctx context.Context, worktree string) (*engine.Engine, error) {
	if p.Open != nil {
		return p.Open(ctx, worktree)
	}
	s, err := settings.Load(worktree)
	if err != nil {
		return nil, err
	}
	repo, err := shadow.Open(ctx, worktree, shadow.Options{Disabled: !s.Enabled})
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Repo: repo, Settings: s}), nil
}

func hashStrings(ids []plumbing.Hash) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
