package engine

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// contextLines is the unified diff context used by Show.
const contextLines = 3

type lineOp struct {
	kind diffmatchpatch.Operation
	text string
}

// Hunk is one contiguous run of changed lines between two versions of a file.
// Offsets are zero-based line indexes where the run starts.
type Hunk struct {
	Index     int      `json:"index"`
	OldOffset int      `json:"old_offset"`
	NewOffset int      `json:"new_offset"`
	Removed   []string `json:"removed,omitempty"`
	Added     []string `json:"added,omitempty"`

	first, last int // range in the op list
}

// OldStart returns the 1-based first removed line.
func (h Hunk) OldStart() int { return h.OldOffset + 1 }

// NewStart returns the 1-based first added line, or for a pure deletion the
// line that now follows the removed block.
func (h Hunk) NewStart() int { return h.NewOffset + 1 }

// splitLines splits text after every newline, keeping the terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineDiff returns the line-level edit script from old to new.
func lineDiff(oldText, newText string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		for _, l := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: d.Type, text: l})
		}
	}
	return ops
}

// computeHunks groups consecutive changed lines into numbered hunks.
func computeHunks(ops []lineOp) []Hunk {
	var hunks []Hunk
	oldIdx, newIdx := 0, 0
	for i := 0; i < len(ops); {
		if ops[i].kind == diffmatchpatch.DiffEqual {
			oldIdx++
			newIdx++
			i++
			continue
		}
		h := Hunk{Index: len(hunks) + 1, OldOffset: oldIdx, NewOffset: newIdx, first: i}
		for i < len(ops) && ops[i].kind != diffmatchpatch.DiffEqual {
			switch ops[i].kind {
			case diffmatchpatch.DiffDelete:
				h.Removed = append(h.Removed, ops[i].text)
				oldIdx++
			case diffmatchpatch.DiffInsert:
				h.Added = append(h.Added, ops[i].text)
				newIdx++
			}
			i++
		}
		h.last = i
		hunks = append(hunks, h)
	}
	return hunks
}

// revertHunks rebuilds the new text with the selected hunks restored to
// their old lines.
func revertHunks(ops []lineOp, hunks []Hunk, selected map[int]bool) string {
	var buf strings.Builder
	next := 0
	for _, h := range hunks {
		for _, op := range ops[next:h.first] {
			buf.WriteString(op.text)
		}
		if selected[h.Index] {
			for _, l := range h.Removed {
				buf.WriteString(l)
			}
		} else {
			for _, l := range h.Added {
				buf.WriteString(l)
			}
		}
		next = h.last
	}
	for _, op := range ops[next:] {
		buf.WriteString(op.text)
	}
	return buf.String()
}

// hunksInLineRange selects hunks whose new-side lines overlap [start, end]
// (1-based, inclusive). A pure deletion counts when the line that now follows
// it lies in the range.
func hunksInLineRange(hunks []Hunk, start, end int) map[int]bool {
	selected := make(map[int]bool)
	for _, h := range hunks {
		first := h.NewStart()
		last := first + len(h.Added) - 1
		if len(h.Added) == 0 {
			last = first
		}
		if first <= end && last >= start {
			selected[h.Index] = true
		}
	}
	return selected
}

// isBinary reports whether content looks like binary data.
func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0
}

// unifiedFileDiff renders old -> new as a go-diff FileDiff with context.
// Empty names mean the file is absent on that side.
func unifiedFileDiff(path string, oldContent, newContent []byte, oldExists, newExists bool) *godiff.FileDiff {
	fd := &godiff.FileDiff{OrigName: "a/" + path, NewName: "b/" + path}
	if !oldExists {
		fd.OrigName = "/dev/null"
	}
	if !newExists {
		fd.NewName = "/dev/null"
	}
	if isBinary(oldContent) || isBinary(newContent) {
		fd.Extended = []string{"Binary files differ"}
		return fd
	}

	ops := lineDiff(string(oldContent), string(newContent))
	changed := computeHunks(ops)
	if len(changed) == 0 {
		return fd
	}

	// Widen every change by the context and merge overlapping windows.
	type window struct{ first, last int }
	var windows []window
	for _, h := range changed {
		w := window{first: max(h.first-contextLines, 0), last: min(h.last+contextLines, len(ops))}
		if n := len(windows); n > 0 && w.first <= windows[n-1].last {
			windows[n-1].last = w.last
			continue
		}
		windows = append(windows, w)
	}

	// Line numbers at the start of each op.
	oldAt := make([]int, len(ops)+1)
	newAt := make([]int, len(ops)+1)
	for i, op := range ops {
		oldAt[i+1], newAt[i+1] = oldAt[i], newAt[i]
		if op.kind != diffmatchpatch.DiffInsert {
			oldAt[i+1]++
		}
		if op.kind != diffmatchpatch.DiffDelete {
			newAt[i+1]++
		}
	}

	for _, w := range windows {
		var body bytes.Buffer
		for _, op := range ops[w.first:w.last] {
			switch op.kind {
			case diffmatchpatch.DiffEqual:
				body.WriteByte(' ')
			case diffmatchpatch.DiffDelete:
				body.WriteByte('-')
			case diffmatchpatch.DiffInsert:
				body.WriteByte('+')
			}
			body.WriteString(op.text)
			if !strings.HasSuffix(op.text, "\n") {
				body.WriteString("\n\\ No newline at end of file\n")
			}
		}
		h := &godiff.Hunk{
			OrigStartLine: int32(oldAt[w.first] + 1),
			OrigLines:     int32(oldAt[w.last] - oldAt[w.first]),
			NewStartLine:  int32(newAt[w.first] + 1),
			NewLines:      int32(newAt[w.last] - newAt[w.first]),
			Body:          body.Bytes(),
		}
		// Unified diffs number an empty side by the line before it.
		if h.OrigLines == 0 {
			h.OrigStartLine--
		}
		if h.NewLines == 0 {
			h.NewStartLine--
		}
		fd.Hunks = append(fd.Hunks, h)
	}
	return fd
}
