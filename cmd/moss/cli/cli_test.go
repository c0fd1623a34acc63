package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/lock"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/testutil"
)

// setupWorktree creates a git worktree, makes it the working directory and
// isolates the registry. Not parallel-safe.
func setupWorktree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	t.Chdir(dir)
	t.Setenv(paths.RegistryPathEnvVar, filepath.Join(t.TempDir(), "worktrees.db"))
	t.Setenv(settings.DisabledEnvVar, "")
	paths.ClearWorktreeRootCache()
	t.Cleanup(paths.ClearWorktreeRootCache)

	root, err := paths.WorktreeRoot()
	require.NoError(t, err)
	return root
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestCLI_RecordUndoRedo(t *testing.T) {
	root := setupWorktree(t)

	testutil.WriteFile(t, root, "a.txt", "one\n")
	out, _, err := run(t, "record", "a.txt", "-m", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded")
	assert.Contains(t, out, "insert a.txt")

	testutil.WriteFile(t, root, "a.txt", "two\n")
	_, _, err = run(t, "record", "a.txt")
	require.NoError(t, err)

	out, _, err = run(t, "record", "a.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes")

	out, _, err = run(t, "undo")
	require.NoError(t, err)
	assert.Contains(t, out, "Undid to")
	assert.Equal(t, "one\n", testutil.ReadFile(t, root, "a.txt"))

	_, _, err = run(t, "redo")
	require.NoError(t, err)
	assert.Equal(t, "two\n", testutil.ReadFile(t, root, "a.txt"))

	out, _, err = run(t, "history", "--json")
	require.NoError(t, err)
	var entries []engine.CommitSummary
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[1].Message)
	assert.True(t, entries[2].IsHead)

	out, _, err = run(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "-one")
	assert.Contains(t, out, "+two")

	out, _, err = run(t, "status", "--json")
	require.NoError(t, err)
	var st engine.StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Enabled)
	assert.Equal(t, entries[2].ID, st.Head)
	assert.Empty(t, st.Modified)
}

func TestCLI_ConflictIsExplained(t *testing.T) {
	root := setupWorktree(t)
	testutil.WriteFile(t, root, "a.txt", "one\n")
	_, _, err := run(t, "record", "a.txt")
	require.NoError(t, err)
	testutil.WriteFile(t, root, "a.txt", "two\n")
	_, _, err = run(t, "record", "a.txt")
	require.NoError(t, err)
	testutil.WriteFile(t, root, "a.txt", "local\n")

	_, stderr, err := run(t, "undo")
	var silent *SilentError
	require.ErrorAs(t, err, &silent)
	assert.Contains(t, stderr, "modified outside moss")
	assert.Contains(t, stderr, "a.txt")
	assert.Equal(t, "local\n", testutil.ReadFile(t, root, "a.txt"))

	_, stderr, err = run(t, "undo", "--force")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Overwrote local changes")
	assert.Equal(t, "one\n", testutil.ReadFile(t, root, "a.txt"))
}

func TestCLI_DisableStopsNavigation(t *testing.T) {
	setupWorktree(t)

	out, _, err := run(t, "disable", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	_, stderr, err := run(t, "undo")
	require.ErrorIs(t, err, shadow.ErrDisabled)
	assert.Contains(t, stderr, "disabled")

	out, _, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	_, _, err = run(t, "enable", "--local")
	require.NoError(t, err)
	_, _, err = run(t, "init")
	require.NoError(t, err)
}

func TestParseLineRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    engine.LineRange
		wantErr bool
	}{
		{"5", engine.LineRange{Start: 5, End: 5}, false},
		{"10-20", engine.LineRange{Start: 10, End: 20}, false},
		{" 3 - 4 ", engine.LineRange{Start: 3, End: 4}, false},
		{"0", engine.LineRange{}, true},
		{"9-2", engine.LineRange{}, true},
		{"a-b", engine.LineRange{}, true},
	}
	for _, tt := range tests {
		got, err := parseLineRange(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestInferOperation(t *testing.T) {
	t.Parallel()
	created := engine.FileDiff{Path: "n", AfterExists: true}
	deleted := engine.FileDiff{Path: "d", BeforeExists: true}
	changed := engine.FileDiff{Path: "c", BeforeExists: true, AfterExists: true}

	assert.Equal(t, shadow.OpInsert, inferOperation([]engine.FileDiff{created}))
	assert.Equal(t, shadow.OpDelete, inferOperation([]engine.FileDiff{deleted}))
	assert.Equal(t, shadow.OpMove, inferOperation([]engine.FileDiff{deleted, created}))
	assert.Equal(t, shadow.OpReplace, inferOperation([]engine.FileDiff{changed, created}))
}

func TestErrorKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&shadow.ConflictError{}, "conflict"},
		{fmt.Errorf("wrapped: %w", &shadow.CheckpointBoundaryError{}), "checkpoint_boundary"},
		{&shadow.AmbiguousRedoError{}, "ambiguous_redo"},
		{shadow.ErrNoRedoTarget, "no_redo_target"},
		{shadow.ErrNothingToUndo, "nothing_to_undo"},
		{fmt.Errorf("x: %w", shadow.ErrCommitNotFound), "bad_ref"},
		{lock.ErrFileLocked, "locked"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestReportError_PassesThroughPlainErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	plain := errors.New("plain")
	assert.Same(t, plain, reportError(&buf, plain))
	assert.Empty(t, buf.String())

	err := reportError(&buf, &shadow.AmbiguousRedoError{})
	var silent *SilentError
	assert.ErrorAs(t, err, &silent)
	assert.Contains(t, buf.String(), "several redo branches")
}
