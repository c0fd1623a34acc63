package logging

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for logging values.
// Using private types to avoid key collisions.
type contextKey int

const (
	worktreeKey contextKey = iota
	operationIDKey
	componentKey
)

// WithWorktree adds the worktree root to the context.
func WithWorktree(ctx context.Context, worktreeRoot string) context.Context {
	return context.WithValue(ctx, worktreeKey, worktreeRoot)
}

// WithOperation adds an operation ID to the context.
// Every mutating command (record, undo, redo, goto, prune) gets its own ID so
// log lines of one invocation can be grouped.
func WithOperation(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, operationIDKey, operationID)
}

// WithComponent adds a component name to the context.
// Component names help identify the subsystem generating logs (e.g., "tracker", "engine", "retention").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// NewOperationID returns a fresh random operation ID.
func NewOperationID() string {
	return uuid.NewString()
}

// WorktreeFromContext extracts the worktree root from the context.
// Returns empty string if not set.
func WorktreeFromContext(ctx context.Context) string {
	return stringValue(ctx, worktreeKey)
}

// OperationIDFromContext extracts the operation ID from the context.
// Returns empty string if not set.
func OperationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, operationIDKey)
}

// ComponentFromContext extracts the component name from the context.
// Returns empty string if not set.
func ComponentFromContext(ctx context.Context) string {
	return stringValue(ctx, componentKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
