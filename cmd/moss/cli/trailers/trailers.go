// Package trailers provides parsing and formatting for moss shadow commit message trailers.
// Trailers are key-value metadata appended to git commit messages following the
// git trailer convention (key: value format after a blank line). They duplicate
// the searchable parts of meta.json so shadow commits stay readable with plain git.
package trailers

import (
	"fmt"
	"regexp"
	"strings"
)

// Trailer key constants used in shadow commit messages.
const (
	// OperationTrailerKey records the edit operation (insert, delete, replace, move, rename).
	OperationTrailerKey = "Moss-Operation"

	// WorkflowTrailerKey records the optional provenance tag of the edit.
	WorkflowTrailerKey = "Moss-Workflow"

	// RealHeadTrailerKey records the real VCS HEAD hash at commit time.
	RealHeadTrailerKey = "Moss-Real-Head"

	// CheckpointTrailerKey marks a commit as a real-VCS-aligned checkpoint.
	CheckpointTrailerKey = "Moss-Checkpoint"
)

var (
	operationTrailerRegex  = regexp.MustCompile(`(?m)^` + OperationTrailerKey + `:\s*(\S+)`)
	workflowTrailerRegex   = regexp.MustCompile(`(?m)^` + WorkflowTrailerKey + `:\s*(.+)$`)
	realHeadTrailerRegex   = regexp.MustCompile(`(?m)^` + RealHeadTrailerKey + `:\s*([0-9a-f]{40})`)
	checkpointTrailerRegex = regexp.MustCompile(`(?m)^` + CheckpointTrailerKey + `:\s*true`)
)

// Fields are the trailer values of one shadow commit.
type Fields struct {
	Operation   string
	Workflow    string
	RealVCSHead string
	Checkpoint  bool
}

// Format builds a commit message from a subject line and trailer fields.
// Empty fields are omitted.
func Format(subject string, f Fields) string {
	var sb strings.Builder
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = f.Operation
	}
	sb.WriteString(subject)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n", OperationTrailerKey, f.Operation))
	if f.Workflow != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", WorkflowTrailerKey, f.Workflow))
	}
	if f.RealVCSHead != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", RealHeadTrailerKey, f.RealVCSHead))
	}
	if f.Checkpoint {
		sb.WriteString(fmt.Sprintf("%s: true\n", CheckpointTrailerKey))
	}
	return sb.String()
}

// Parse extracts trailer fields from a commit message.
// Missing trailers leave the corresponding field zero.
func Parse(message string) Fields {
	var f Fields
	if m := operationTrailerRegex.FindStringSubmatch(message); len(m) > 1 {
		f.Operation = m[1]
	}
	if m := workflowTrailerRegex.FindStringSubmatch(message); len(m) > 1 {
		f.Workflow = strings.TrimSpace(m[1])
	}
	if m := realHeadTrailerRegex.FindStringSubmatch(message); len(m) > 1 {
		f.RealVCSHead = m[1]
	}
	f.Checkpoint = checkpointTrailerRegex.MatchString(message)
	return f
}

// Subject returns the first line of a commit message.
func Subject(message string) string {
	if idx := strings.Index(message, "\n"); idx >= 0 {
		return message[:idx]
	}
	return message
}
