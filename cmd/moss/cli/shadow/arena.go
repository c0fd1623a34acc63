package shadow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/validation"
)

func (r *Repository) resetArena() {
	r.commits = make(map[plumbing.Hash]*Commit)
	r.children = make(map[plumbing.Hash][]plumbing.Hash)
	r.root = plumbing.ZeroHash
	r.head = plumbing.ZeroHash
	r.nextSeq = 0
	r.corrupt = nil
}

// Reload rebuilds the arena from disk. Writers call it after taking the store
// lock so they see commits written by other processes. Integrity violations
// do not fail the reload; they mark the store read-only (see Corrupt).
func (r *Repository) Reload(ctx context.Context) error {
	if r.disabled {
		return nil
	}
	defer logging.LogDuration(ctx, slog.LevelDebug, "shadow history loaded", time.Now())

	r.resetArena()

	tips, err := r.tipIDs()
	if err != nil {
		return err
	}
	for _, tip := range tips {
		if reason := r.loadChain(tip); reason != "" {
			r.markCorrupt(ctx, reason)
			return nil
		}
	}

	for _, c := range r.commits {
		if c.IsRoot() {
			if r.root != plumbing.ZeroHash {
				r.markCorrupt(ctx, fmt.Sprintf("multiple roots (%s, %s)", ShortHash(r.root), c.ShortID()))
				return nil
			}
			r.root = c.ID
			continue
		}
		r.children[c.Parent] = append(r.children[c.Parent], c.ID)
	}
	for parent := range r.children {
		r.sortBySeq(r.children[parent])
	}

	if reason := r.checkIntegrity(); reason != "" {
		r.markCorrupt(ctx, reason)
		return nil
	}

	head, exists, err := r.readHead()
	if err != nil {
		return err
	}
	switch {
	case !exists && len(r.commits) == 1:
		// Crashed between writing the root and pointing head at it.
		r.head = r.root
	case !exists && len(r.commits) > 0:
		r.markCorrupt(ctx, "head pointer missing")
	case exists && head == plumbing.ZeroHash:
		r.markCorrupt(ctx, "head pointer unreadable")
	case exists && r.commits[head] == nil:
		r.markCorrupt(ctx, fmt.Sprintf("head %s not in history", ShortHash(head)))
	default:
		r.head = head
	}
	return nil
}

func (r *Repository) markCorrupt(ctx context.Context, reason string) {
	r.corrupt = &CorruptHistoryError{Reason: reason}
	logging.Error(ctx, "shadow history failed integrity check",
		slog.String("store", r.dir),
		slog.String("reason", reason),
	)
}

// tipIDs lists the commits referenced by tip refs.
func (r *Repository) tipIDs() ([]plumbing.Hash, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, &IOError{Op: "list tip refs", Path: r.dir, Err: err}
	}
	defer iter.Close()

	var tips []plumbing.Hash
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference && strings.HasPrefix(ref.Name().String(), paths.TipRefPrefix) {
			tips = append(tips, ref.Hash())
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "list tip refs", Path: r.dir, Err: err}
	}
	return tips, nil
}

// loadChain loads tip and its ancestors until it reaches a loaded commit.
// It returns a non-empty reason when the chain is broken.
func (r *Repository) loadChain(tip plumbing.Hash) string {
	cur := tip
	for cur != plumbing.ZeroHash {
		if _, ok := r.commits[cur]; ok {
			return ""
		}
		c, gitParents, err := r.readCommit(cur)
		if err != nil {
			return fmt.Sprintf("dangling commit %s: %v", ShortHash(cur), err)
		}
		if len(gitParents) > 1 {
			return fmt.Sprintf("commit %s has %d parents", c.ShortID(), len(gitParents))
		}
		gitParent := plumbing.ZeroHash
		if len(gitParents) == 1 {
			gitParent = gitParents[0]
		}
		if gitParent != c.Parent {
			return fmt.Sprintf("commit %s metadata parent %s does not match object parent %s",
				c.ShortID(), ShortHash(c.Parent), ShortHash(gitParent))
		}
		r.commits[cur] = c
		if c.Seq >= r.nextSeq {
			r.nextSeq = c.Seq + 1
		}
		cur = c.Parent
	}
	return ""
}

// checkIntegrity verifies the loaded graph is a tree with increasing seq.
func (r *Repository) checkIntegrity() string {
	if len(r.commits) > 0 && r.root == plumbing.ZeroHash {
		return "no root commit"
	}
	for _, c := range r.commits {
		if c.IsRoot() {
			continue
		}
		parent, ok := r.commits[c.Parent]
		if !ok {
			return fmt.Sprintf("commit %s has dangling parent %s", c.ShortID(), ShortHash(c.Parent))
		}
		if parent.Seq >= c.Seq {
			return fmt.Sprintf("commit %s (seq %d) is not newer than its parent %s (seq %d)",
				c.ShortID(), c.Seq, parent.ShortID(), parent.Seq)
		}
	}

	// Every commit must reach the root; a cycle never does.
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[plumbing.Hash]int, len(r.commits))
	for id := range r.commits {
		var stack []plumbing.Hash
		cur := id
		for cur != plumbing.ZeroHash && state[cur] != done {
			if state[cur] == visiting {
				return fmt.Sprintf("cycle through commit %s", ShortHash(cur))
			}
			state[cur] = visiting
			stack = append(stack, cur)
			cur = r.commits[cur].Parent
		}
		for _, s := range stack {
			state[s] = done
		}
	}
	return ""
}

func (r *Repository) addToArena(c *Commit) {
	r.commits[c.ID] = c
	if c.IsRoot() {
		r.root = c.ID
	} else {
		r.children[c.Parent] = append(r.children[c.Parent], c.ID)
	}
	if c.Seq >= r.nextSeq {
		r.nextSeq = c.Seq + 1
	}
}

func (r *Repository) sortBySeq(ids []plumbing.Hash) {
	sort.Slice(ids, func(i, j int) bool {
		return r.commits[ids[i]].Seq < r.commits[ids[j]].Seq
	})
}

// Commit returns the commit with the given id.
func (r *Repository) Commit(id plumbing.Hash) (*Commit, error) {
	c, ok := r.commits[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ShortHash(id), ErrCommitNotFound)
	}
	return c, nil
}

// Children returns the children of id, oldest first.
func (r *Repository) Children(id plumbing.Hash) []plumbing.Hash {
	return append([]plumbing.Hash(nil), r.children[id]...)
}

// Root returns the root commit id, or ZeroHash before the first edit.
func (r *Repository) Root() plumbing.Hash {
	return r.root
}

// Len returns the number of commits in the store.
func (r *Repository) Len() int {
	return len(r.commits)
}

// Commits returns every commit in creation order.
func (r *Repository) Commits() []*Commit {
	out := make([]*Commit, 0, len(r.commits))
	for _, c := range r.commits {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Ancestors returns id followed by its parents up to the root.
func (r *Repository) Ancestors(id plumbing.Hash) []plumbing.Hash {
	var out []plumbing.Hash
	for cur := id; cur != plumbing.ZeroHash; {
		c, ok := r.commits[cur]
		if !ok {
			break
		}
		out = append(out, cur)
		cur = c.Parent
	}
	return out
}

// PathFromRoot returns the commits from the root down to id.
func (r *Repository) PathFromRoot(id plumbing.Hash) []plumbing.Hash {
	anc := r.Ancestors(id)
	for i, j := 0, len(anc)-1; i < j; i, j = i+1, j-1 {
		anc[i], anc[j] = anc[j], anc[i]
	}
	return anc
}

// IsAncestor reports whether a is b or one of b's ancestors.
func (r *Repository) IsAncestor(a, b plumbing.Hash) bool {
	for _, id := range r.Ancestors(b) {
		if id == a {
			return true
		}
	}
	return false
}

// Subtree returns id and all of its descendants, parents before children.
func (r *Repository) Subtree(id plumbing.Hash) []plumbing.Hash {
	if _, ok := r.commits[id]; !ok {
		return nil
	}
	out := []plumbing.Hash{id}
	for i := 0; i < len(out); i++ {
		out = append(out, r.children[out[i]]...)
	}
	return out
}

// CommonAncestor returns the nearest commit that is an ancestor of both a and b.
func (r *Repository) CommonAncestor(a, b plumbing.Hash) plumbing.Hash {
	seen := make(map[plumbing.Hash]bool)
	for _, id := range r.Ancestors(a) {
		seen[id] = true
	}
	for _, id := range r.Ancestors(b) {
		if seen[id] {
			return id
		}
	}
	return plumbing.ZeroHash
}

// LastTouching returns the most recent commit at or above from that recorded
// a change to path.
func (r *Repository) LastTouching(from plumbing.Hash, path string) (*Commit, FileChange, bool) {
	for _, id := range r.Ancestors(from) {
		c := r.commits[id]
		if fc, ok := c.File(path); ok {
			return c, fc, true
		}
	}
	return nil, FileChange{}, false
}

// ExpectedState returns the blob the current path says path should contain:
// the after side of the last commit at or above from touching it.
// tracked is false when no commit on the path recorded the file.
func (r *Repository) ExpectedState(from plumbing.Hash, path string) (hash plumbing.Hash, tracked bool) {
	_, fc, ok := r.LastTouching(from, path)
	if !ok {
		return plumbing.ZeroHash, false
	}
	return fc.After, true
}

// TrackedPaths returns every path recorded on the path from the root to id,
// sorted.
func (r *Repository) TrackedPaths(id plumbing.Hash) []string {
	set := make(map[string]bool)
	for _, a := range r.Ancestors(id) {
		for _, f := range r.commits[a].Files {
			set[f.Path] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ResolveRef resolves a user reference to a commit id. Accepted forms are
// HEAD, HEAD~N, root, and a unique hex id prefix of at least four characters.
func (r *Repository) ResolveRef(ref string) (plumbing.Hash, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "HEAD" || ref == "@":
		if r.head == plumbing.ZeroHash {
			return plumbing.ZeroHash, fmt.Errorf("HEAD: %w", ErrCommitNotFound)
		}
		return r.head, nil
	case ref == "root":
		if r.root == plumbing.ZeroHash {
			return plumbing.ZeroHash, fmt.Errorf("root: %w", ErrCommitNotFound)
		}
		return r.root, nil
	case strings.HasPrefix(ref, "HEAD~"):
		n, err := strconv.Atoi(strings.TrimPrefix(ref, "HEAD~"))
		if err != nil || n < 0 {
			return plumbing.ZeroHash, fmt.Errorf("invalid reference %q", ref)
		}
		anc := r.Ancestors(r.head)
		if n >= len(anc) {
			return plumbing.ZeroHash, fmt.Errorf("%s: %w", ref, ErrCommitNotFound)
		}
		return anc[n], nil
	}

	ref = strings.ToLower(ref)
	if err := validation.ValidateCommitRef(ref); err != nil {
		return plumbing.ZeroHash, err
	}
	var matches []plumbing.Hash
	for id := range r.commits {
		if strings.HasPrefix(id.String(), ref) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return plumbing.ZeroHash, fmt.Errorf("%s: %w", ref, ErrCommitNotFound)
	case 1:
		return matches[0], nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("%s matches %d commits: %w", ref, len(matches), ErrAmbiguousRef)
	}
}
