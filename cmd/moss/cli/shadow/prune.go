package shadow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
)

// ErrPruneRoot is returned when asked to remove the root commit.
var ErrPruneRoot = errors.New("the root commit cannot be pruned")

// RemoveSubtree deletes id and all of its descendants from the store and
// returns the removed ids. Head must not lie inside the subtree; callers move
// it out first. Objects no longer reachable from any remaining commit are
// deleted.
func (r *Repository) RemoveSubtree(ctx context.Context, id plumbing.Hash) ([]plumbing.Hash, error) {
	if err := r.Writable(); err != nil {
		return nil, err
	}
	c, err := r.Commit(id)
	if err != nil {
		return nil, err
	}
	if c.IsRoot() {
		return nil, ErrPruneRoot
	}
	if r.IsAncestor(id, r.head) {
		return nil, &LiveDescendantsError{Commit: id, Head: r.head}
	}

	removed := r.Subtree(id)

	// Re-tip the parent before dropping the subtree's tips so the parent stays
	// reachable at every step.
	siblings := 0
	for _, child := range r.children[c.Parent] {
		if child != id {
			siblings++
		}
	}
	if siblings == 0 {
		if err := r.setTip(c.Parent); err != nil {
			return nil, err
		}
	}
	for _, s := range removed {
		if len(r.children[s]) == 0 {
			if err := r.removeTip(s); err != nil {
				return nil, err
			}
		}
	}

	for _, s := range removed {
		delete(r.commits, s)
		delete(r.children, s)
	}
	kept := r.children[c.Parent][:0]
	for _, child := range r.children[c.Parent] {
		if child != id {
			kept = append(kept, child)
		}
	}
	if len(kept) == 0 {
		delete(r.children, c.Parent)
	} else {
		r.children[c.Parent] = kept
	}

	deleted, err := r.collectGarbage()
	if err != nil {
		return removed, err
	}
	logging.Info(ctx, "shadow subtree removed",
		slog.String("commit", c.ShortID()),
		slog.Int("commits", len(removed)),
		slog.Int("objects", deleted),
	)
	return removed, nil
}

// collectGarbage deletes loose objects not reachable from any commit in the
// arena and returns how many were deleted.
func (r *Repository) collectGarbage() (int, error) {
	los, ok := r.repo.Storer.(storer.LooseObjectStorer)
	if !ok {
		return 0, nil
	}

	reachable := make(map[plumbing.Hash]bool)
	for id := range r.commits {
		reachable[id] = true
		gc, err := r.repo.CommitObject(id)
		if err != nil {
			return 0, &IOError{Op: "read commit", Path: id.String(), Err: err}
		}
		if err := r.markTree(gc.TreeHash, reachable); err != nil {
			return 0, err
		}
	}

	var garbage []plumbing.Hash
	err := los.ForEachObjectHash(func(h plumbing.Hash) error {
		if !reachable[h] {
			garbage = append(garbage, h)
		}
		return nil
	})
	if err != nil {
		return 0, &IOError{Op: "list objects", Path: r.dir, Err: err}
	}
	for _, h := range garbage {
		if err := los.DeleteLooseObject(h); err != nil {
			return 0, &IOError{Op: "delete object", Path: h.String(), Err: err}
		}
	}
	return len(garbage), nil
}

func (r *Repository) markTree(hash plumbing.Hash, reachable map[plumbing.Hash]bool) error {
	if reachable[hash] {
		return nil
	}
	reachable[hash] = true
	tree, err := r.repo.TreeObject(hash)
	if err != nil {
		return &IOError{Op: "read tree", Path: hash.String(), Err: err}
	}
	for _, e := range tree.Entries {
		if e.Mode == filemode.Dir {
			if err := r.markTree(e.Hash, reachable); err != nil {
				return err
			}
			continue
		}
		reachable[e.Hash] = true
	}
	return nil
}
