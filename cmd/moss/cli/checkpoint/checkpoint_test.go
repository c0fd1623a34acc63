package checkpoint

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/testutil"
)

const (
	realA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	realB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newMonitor(t *testing.T, real string) (*Monitor, *testutil.FakeHead) {
	t.Helper()
	repo, err := shadow.Open(context.Background(), t.TempDir(), shadow.Options{})
	require.NoError(t, err)
	fake := testutil.NewFakeHead(real)
	return &Monitor{Repo: repo, Resolver: fake}, fake
}

func commit(t *testing.T, m *Monitor, c *shadow.Commit) plumbing.Hash {
	t.Helper()
	ctx := context.Background()
	c.Parent = m.Repo.Head()
	if c.Operation == "" {
		c.Operation = shadow.OpReplace
	}
	id, err := m.Repo.WriteCommit(ctx, c)
	require.NoError(t, err)
	require.NoError(t, m.Repo.SetHead(ctx, id))
	return id
}

func TestGitHeadResolver_NoRepository(t *testing.T) {
	t.Parallel()
	g := GitHeadResolver{WorktreeRoot: t.TempDir()}

	head, err := g.RealHead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, head)

	_, exists, err := g.FileAtHead(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGitHeadResolver_UnbornAndCommitted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	g := GitHeadResolver{WorktreeRoot: dir}

	head, err := g.RealHead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, head, "unborn branch has no HEAD")

	testutil.WriteFile(t, dir, "src/a.txt", "committed\n")
	hash := testutil.GitCommitAll(t, dir, "initial", "src/a.txt")

	head, err = g.RealHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, head)

	content, exists, err := g.FileAtHead(context.Background(), "src/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "committed\n", string(content))

	_, exists, err = g.FileAtHead(context.Background(), "src/missing.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckDivergence(t *testing.T) {
	t.Parallel()
	m, fake := newMonitor(t, realA)
	ctx := context.Background()

	report, err := m.CheckDivergence(ctx, []string{"a.txt"})
	require.NoError(t, err)
	assert.False(t, report.Changed, "no history yet")

	root := commit(t, m, &shadow.Commit{Operation: shadow.OpInit, RealVCSHead: realA})
	edit := commit(t, m, &shadow.Commit{RealVCSHead: realA, Files: []shadow.FileChange{{Path: "a.txt"}}})

	report, err = m.CheckDivergence(ctx, []string{"a.txt"})
	require.NoError(t, err)
	assert.False(t, report.Changed)
	assert.Equal(t, edit, report.Against)

	report, err = m.CheckDivergence(ctx, []string{"other.txt"})
	require.NoError(t, err)
	assert.Equal(t, root, report.Against, "untouched files compare against the root")

	fake.Commit(realB, nil)
	report, err = m.CheckDivergence(ctx, []string{"a.txt"})
	require.NoError(t, err)
	assert.True(t, report.Changed)
	assert.Equal(t, realA, report.PreviousRealVCSHead)
	assert.Equal(t, realB, report.NewRealVCSHead)
}

func TestNearestCheckpointAndBoundary(t *testing.T) {
	t.Parallel()
	m, fake := newMonitor(t, realA)
	ctx := context.Background()

	root := commit(t, m, &shadow.Commit{Operation: shadow.OpInit, RealVCSHead: realA})
	first := commit(t, m, &shadow.Commit{RealVCSHead: realA})

	boundary, err := m.NearestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, plumbing.ZeroHash, boundary, "no checkpoint yet")
	require.NoError(t, m.EnforceBoundary(ctx, root, false))

	// A real commit happens: head itself becomes the boundary.
	fake.Commit(realB, nil)
	boundary, err = m.NearestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, boundary)

	var boundaryErr *shadow.CheckpointBoundaryError
	require.ErrorAs(t, m.EnforceBoundary(ctx, root, false), &boundaryErr)
	assert.Equal(t, first, boundaryErr.Checkpoint)
	require.NoError(t, m.EnforceBoundary(ctx, root, true), "override crosses the boundary")

	// The next edit is flagged and records the new real head.
	cp := commit(t, m, &shadow.Commit{RealVCSHead: realB, Checkpoint: true})
	after := commit(t, m, &shadow.Commit{RealVCSHead: realB})

	boundary, err = m.NearestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, cp, boundary)
	assert.Equal(t, cp, m.LastCheckpoint())

	require.NoError(t, m.EnforceBoundary(ctx, cp, false), "the checkpoint itself is reachable")
	require.NoError(t, m.EnforceBoundary(ctx, after, false))
	require.ErrorAs(t, m.EnforceBoundary(ctx, first, false), &boundaryErr)
}

func TestEnforceBoundary_OtherBranchesStayReachable(t *testing.T) {
	t.Parallel()
	m, fake := newMonitor(t, realA)
	ctx := context.Background()

	root := commit(t, m, &shadow.Commit{Operation: shadow.OpInit, RealVCSHead: realA})
	first := commit(t, m, &shadow.Commit{RealVCSHead: realA})
	require.NoError(t, m.Repo.SetHead(ctx, root))
	side := commit(t, m, &shadow.Commit{RealVCSHead: realA})
	require.NoError(t, m.Repo.SetHead(ctx, first))

	fake.Commit(realB, nil)
	cp := commit(t, m, &shadow.Commit{RealVCSHead: realB, Checkpoint: true})
	boundary, err := m.NearestCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, cp, boundary)

	// side predates the checkpoint but is not behind it on head's path.
	require.NoError(t, m.EnforceBoundary(ctx, side, false))

	var boundaryErr *shadow.CheckpointBoundaryError
	require.ErrorAs(t, m.EnforceBoundary(ctx, first, false), &boundaryErr)
	require.ErrorAs(t, m.EnforceBoundary(ctx, root, false), &boundaryErr)
}
