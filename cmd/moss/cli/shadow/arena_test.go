package shadow

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFork creates root -> a -> b and a fork root -> a -> c, leaving head at c.
func buildFork(t *testing.T) (r *Repository, root, a, b, c plumbing.Hash) {
	t.Helper()
	r, _ = openTestRepo(t)
	root = writeRoot(t, r)
	a = writeEdit(t, r, "f.txt", "", "1\n")
	b = writeEdit(t, r, "f.txt", "1\n", "2\n")
	require.NoError(t, r.SetHead(context.Background(), a))
	c = writeEdit(t, r, "g.txt", "", "g\n")
	return r, root, a, b, c
}

func TestArena_Navigation(t *testing.T) {
	t.Parallel()
	r, root, a, b, c := buildFork(t)

	assert.Equal(t, []plumbing.Hash{b, c}, r.Children(a), "children are ordered by creation")
	assert.Equal(t, []plumbing.Hash{c, a, root}, r.Ancestors(c))
	assert.Equal(t, []plumbing.Hash{root, a, c}, r.PathFromRoot(c))
	assert.Equal(t, a, r.CommonAncestor(b, c))
	assert.True(t, r.IsAncestor(a, b))
	assert.True(t, r.IsAncestor(b, b))
	assert.False(t, r.IsAncestor(b, c))

	if diff := cmp.Diff([]plumbing.Hash{a, b, c}, r.Subtree(a)); diff != "" {
		t.Errorf("Subtree(a) mismatch (-want +got):\n%s", diff)
	}

	var seqs []int64
	for _, commit := range r.Commits() {
		seqs = append(seqs, commit.Seq)
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, seqs)
}

func TestArena_SurvivesReload(t *testing.T) {
	t.Parallel()
	r, root, a, b, c := buildFork(t)

	require.NoError(t, r.Reload(context.Background()))
	assert.NoError(t, r.Corrupt())
	assert.Equal(t, root, r.Root())
	assert.Equal(t, c, r.Head())
	assert.Equal(t, []plumbing.Hash{b, c}, r.Children(a))
}

func TestArena_LastTouchingAndExpectedState(t *testing.T) {
	t.Parallel()
	r, _, a, b, c := buildFork(t)

	commit, fc, ok := r.LastTouching(b, "f.txt")
	require.True(t, ok)
	assert.Equal(t, b, commit.ID)
	two, err := r.ReadBlob(fc.After)
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(two))

	// On the fork, f.txt was last touched by a.
	commit, _, ok = r.LastTouching(c, "f.txt")
	require.True(t, ok)
	assert.Equal(t, a, commit.ID)

	_, tracked := r.ExpectedState(c, "missing.txt")
	assert.False(t, tracked)
	assert.Equal(t, []string{"f.txt", "g.txt"}, r.TrackedPaths(c))
}

func TestResolveRef(t *testing.T) {
	t.Parallel()
	r, root, a, _, c := buildFork(t)

	tests := []struct {
		ref     string
		want    plumbing.Hash
		wantErr error
	}{
		{ref: "HEAD", want: c},
		{ref: "HEAD~1", want: a},
		{ref: "HEAD~2", want: root},
		{ref: "HEAD~3", wantErr: ErrCommitNotFound},
		{ref: "root", want: root},
		{ref: a.String(), want: a},
		{ref: a.String()[:10], want: a},
		{ref: "ffffffffffffffffffffffffffffffffffffffff", wantErr: ErrCommitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := r.ResolveRef(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.ResolveRef("HEAD~x")
	assert.Error(t, err)
	_, err = r.ResolveRef("abc")
	assert.Error(t, err, "prefix shorter than four characters")
}

func TestRemoveSubtree(t *testing.T) {
	t.Parallel()
	r, root, a, b, c := buildFork(t)
	ctx := context.Background()

	removed, err := r.RemoveSubtree(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.Hash{b}, removed)
	assert.Equal(t, []plumbing.Hash{c}, r.Children(a))

	_, err = r.Commit(b)
	require.ErrorIs(t, err, ErrCommitNotFound)

	// The removal persists and leaves a valid tree.
	require.NoError(t, r.Reload(ctx))
	assert.NoError(t, r.Corrupt())
	assert.Equal(t, 3, r.Len())

	_, err = r.RemoveSubtree(ctx, root)
	require.ErrorIs(t, err, ErrPruneRoot)

	var live *LiveDescendantsError
	_, err = r.RemoveSubtree(ctx, a)
	require.ErrorAs(t, err, &live)
	assert.Equal(t, c, live.Head)
}

func TestRemoveSubtree_ReTipsParentAndDeletesObjects(t *testing.T) {
	t.Parallel()
	r, root := openTestRepo(t)
	ctx := context.Background()
	rootID := writeRoot(t, r)
	leaf := writeEdit(t, r, "only.txt", "", "unique content\n")
	require.NoError(t, r.SetHead(ctx, rootID))

	leafCommit, err := r.Commit(leaf)
	require.NoError(t, err)
	blob := leafCommit.Files[0].After

	_, err = r.RemoveSubtree(ctx, leaf)
	require.NoError(t, err)

	_, err = r.ReadBlob(blob)
	assert.Error(t, err, "blob only referenced by the pruned commit is deleted")

	reopened, err := Open(ctx, root, Options{})
	require.NoError(t, err)
	assert.NoError(t, reopened.Corrupt())
	assert.Equal(t, 1, reopened.Len())
	assert.Equal(t, rootID, reopened.Head())
}
