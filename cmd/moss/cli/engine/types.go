package engine

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// FileDiff is the full before and after content of one file touched by an
// edit. A creation has BeforeExists false, a deletion AfterExists false; a
// move or rename is two diffs.
type FileDiff struct {
	Path         string
	Before       []byte
	After        []byte
	BeforeExists bool
	AfterExists  bool
}

// EditMetadata carries optional information about an edit.
type EditMetadata struct {
	Message  string
	Workflow string

	// Force records the edit even when working files diverged from the
	// shadow history without a real VCS commit to explain it.
	Force bool

	// Apply makes RecordEdit write After to disk itself. Otherwise the caller
	// has already written it.
	Apply bool
}

// Granularity selects how much an undo reverts.
type Granularity string

const (
	GranularityCommit    Granularity = "commit"
	GranularityFile      Granularity = "file"
	GranularityHunk      Granularity = "hunk"
	GranularityLineRange Granularity = "lineRange"
)

// ParseGranularity converts a user-supplied granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case "":
		return GranularityCommit, nil
	case GranularityCommit, GranularityFile, GranularityHunk, GranularityLineRange:
		return g, nil
	case "line-range", "lines":
		return GranularityLineRange, nil
	default:
		return "", fmt.Errorf("unknown granularity %q (want commit, file, hunk or lineRange)", s)
	}
}

// LineRange is an inclusive, 1-based range of lines in the current file.
type LineRange struct {
	Start int
	End   int
}

// UndoOptions configures Undo.
type UndoOptions struct {
	// Count is how many commits to step back. Zero means one.
	Count int

	// Paths restricts the undo to these files. Any path restriction, or a
	// granularity finer than commit, makes the undo a corrective commit.
	Paths       []string
	Granularity Granularity

	// Hunks are 1-based hunk numbers as listed by Hunks.
	Hunks []int
	Lines LineRange

	Force           bool
	CrossCheckpoint bool
}

// RedoOptions configures Redo.
type RedoOptions struct {
	// Selector is a child commit id prefix, needed when head has several.
	Selector        string
	Force           bool
	CrossCheckpoint bool
}

// GotoOptions configures Goto.
type GotoOptions struct {
	Force           bool
	CrossCheckpoint bool
}

// NavResult describes a head move.
type NavResult struct {
	From    plumbing.Hash
	To      plumbing.Hash
	Changed []string // files written
	Forced  []string // files overwritten despite local modifications
}

// UndoResult describes an undo. Partial undos leave From/To as the old and
// new head, with To being the corrective commit.
type UndoResult struct {
	NavResult
	Granularity Granularity
	Corrective  bool
}

// RedoResult describes a redo.
type RedoResult = NavResult

// GotoResult describes a goto.
type GotoResult = NavResult

// HistoryOptions filters History.
type HistoryOptions struct {
	// Path keeps only commits touching this file.
	Path string

	// AllBranches lists every commit instead of only head's path.
	AllBranches bool

	// Limit keeps only the most recent commits when positive.
	Limit int
}

// CommitSummary is one History entry.
type CommitSummary struct {
	ID          string    `json:"id"`
	Parent      string    `json:"parent,omitempty"`
	Seq         int64     `json:"seq"`
	Operation   string    `json:"operation"`
	Targets     []string  `json:"targets,omitempty"`
	Paths       []string  `json:"paths,omitempty"`
	Message     string    `json:"message,omitempty"`
	Workflow    string    `json:"workflow,omitempty"`
	RealVCSHead string    `json:"real_vcs_head,omitempty"`
	Checkpoint  bool      `json:"checkpoint,omitempty"`
	Resync      bool      `json:"resync,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsHead      bool      `json:"is_head,omitempty"`
	Children    int       `json:"children"`
}

func summarize(c *shadow.Commit, head plumbing.Hash, children int) CommitSummary {
	s := CommitSummary{
		ID:          c.ID.String(),
		Seq:         c.Seq,
		Operation:   string(c.Operation),
		Targets:     c.Targets,
		Paths:       c.Paths(),
		Message:     c.Message,
		Workflow:    c.Workflow,
		RealVCSHead: c.RealVCSHead,
		Checkpoint:  c.Checkpoint,
		Resync:      c.Resync,
		Timestamp:   c.Timestamp,
		IsHead:      c.ID == head,
		Children:    children,
	}
	if !c.IsRoot() {
		s.Parent = c.Parent.String()
	}
	return s
}

// StatusResult is returned by Status.
type StatusResult struct {
	Enabled bool   `json:"enabled"`
	Head    string `json:"head,omitempty"`

	// UncommittedSinceCheckpoint counts shadow commits on head's path after
	// the last checkpoint (after the root when there is none).
	UncommittedSinceCheckpoint int    `json:"uncommitted_since_checkpoint"`
	LastCheckpoint             string `json:"last_checkpoint,omitempty"`

	RealVCSHead string `json:"real_vcs_head,omitempty"`

	// RealHeadDiverged is true when the real HEAD moved since head was
	// written; navigation below head then needs the override.
	RealHeadDiverged bool `json:"real_head_diverged"`

	// Modified lists tracked files whose content differs from what head
	// expects.
	Modified []string `json:"modified,omitempty"`

	Corrupt string `json:"corrupt,omitempty"`
}
