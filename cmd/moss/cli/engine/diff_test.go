package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHunks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		old, new string
		want     []Hunk
	}{
		{
			name: "identical",
			old:  "a\nb\n",
			new:  "a\nb\n",
		},
		{
			name: "replacement",
			old:  "a\nb\nc\n",
			new:  "a\nB\nc\n",
			want: []Hunk{{Index: 1, OldOffset: 1, NewOffset: 1, Removed: []string{"b\n"}, Added: []string{"B\n"}}},
		},
		{
			name: "insertion and deletion",
			old:  "a\nb\nc\nd\n",
			new:  "x\na\nb\nd\n",
			want: []Hunk{
				{Index: 1, OldOffset: 0, NewOffset: 0, Added: []string{"x\n"}},
				{Index: 2, OldOffset: 2, NewOffset: 3, Removed: []string{"c\n"}},
			},
		},
		{
			name: "created file",
			old:  "",
			new:  "a\nb\n",
			want: []Hunk{{Index: 1, Added: []string{"a\n", "b\n"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := computeHunks(lineDiff(tt.old, tt.new))
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreUnexported(Hunk{}), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("computeHunks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRevertHunks(t *testing.T) {
	t.Parallel()
	oldText := "a\nb\nc\nd\ne\n"
	newText := "a\nB\nc\nd\nE\nf\n"
	ops := lineDiff(oldText, newText)
	hunks := computeHunks(ops)
	require.Len(t, hunks, 2)

	assert.Equal(t, newText, revertHunks(ops, hunks, nil))
	assert.Equal(t, oldText, revertHunks(ops, hunks, map[int]bool{1: true, 2: true}))
	assert.Equal(t, "a\nb\nc\nd\nE\nf\n", revertHunks(ops, hunks, map[int]bool{1: true}))
	assert.Equal(t, "a\nB\nc\nd\ne\n", revertHunks(ops, hunks, map[int]bool{2: true}))
}

func TestHunksInLineRange(t *testing.T) {
	t.Parallel()
	// Line 2 replaced, old line 4 deleted (line "e" now sits at 4).
	ops := lineDiff("a\nb\nc\nd\ne\n", "a\nB\nc\ne\n")
	hunks := computeHunks(ops)
	require.Len(t, hunks, 2)

	tests := []struct {
		start, end int
		want       map[int]bool
	}{
		{1, 1, map[int]bool{}},
		{2, 2, map[int]bool{1: true}},
		{4, 4, map[int]bool{2: true}},
		{1, 10, map[int]bool{1: true, 2: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hunksInLineRange(hunks, tt.start, tt.end), "range %d-%d", tt.start, tt.end)
	}
}

func TestUnifiedFileDiff(t *testing.T) {
	t.Parallel()
	fd := unifiedFileDiff("a.txt", []byte("1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"), []byte("1\n2\n3\n4\n5\n6\n7\n8\n9\nten\n"), true, true)
	require.Len(t, fd.Hunks, 1)
	h := fd.Hunks[0]
	assert.Equal(t, int32(7), h.OrigStartLine)
	assert.Equal(t, int32(4), h.OrigLines)
	assert.Equal(t, int32(4), h.NewLines)
	assert.Equal(t, " 7\n 8\n 9\n-10\n+ten\n", string(h.Body))

	bin := unifiedFileDiff("b.bin", []byte{0, 1}, []byte{0, 2}, true, true)
	assert.Empty(t, bin.Hunks)
	assert.Equal(t, []string{"Binary files differ"}, bin.Extended)

	deleted := unifiedFileDiff("c.txt", []byte("x\n"), nil, true, false)
	assert.Equal(t, "/dev/null", deleted.NewName)
	require.Len(t, deleted.Hunks, 1)
	assert.Equal(t, int32(0), deleted.Hunks[0].NewStartLine)
}

func TestParseGranularity(t *testing.T) {
	t.Parallel()
	tests := map[string]Granularity{
		"":           GranularityCommit,
		"commit":     GranularityCommit,
		"file":       GranularityFile,
		"hunk":       GranularityHunk,
		"lineRange":  GranularityLineRange,
		"line-range": GranularityLineRange,
	}
	for in, want := range tests {
		got, err := ParseGranularity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseGranularity("word")
	require.Error(t, err)
}
