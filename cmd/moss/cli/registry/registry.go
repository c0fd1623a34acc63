// Package registry records which worktrees of a logical repository have a
// shadow store, so cross-worktree retention can find its siblings. Each
// worktree's history stays in its own store; the registry only lists paths.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
)

// Worktree is one registered worktree.
type Worktree struct {
	RepoID   string
	Path     string
	LastSeen time.Time
}

// Registry wraps the SQLite database.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the registry at path, creating parent directories.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	r := &Registry{db: db, now: time.Now}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worktrees (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (repo_id, path)
	);

	CREATE INDEX IF NOT EXISTS idx_worktrees_path ON worktrees(path);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create registry schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register records path as a worktree of repoID, refreshing last_seen.
func (r *Registry) Register(ctx context.Context, repoID, path string) error {
	if repoID == "" || path == "" {
		return errors.New("registry: repo id and path are required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO worktrees (repo_id, path, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(repo_id, path) DO UPDATE SET last_seen = excluded.last_seen`,
		repoID, filepath.Clean(path), r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to register worktree: %w", err)
	}
	return nil
}

// Worktrees lists the registered worktrees of repoID, ordered by path.
// Entries whose directory no longer exists are forgotten and skipped.
func (r *Registry) Worktrees(ctx context.Context, repoID string) ([]Worktree, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, last_seen FROM worktrees WHERE repo_id = ? ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query worktrees: %w", err)
	}
	defer rows.Close()

	var all []Worktree
	for rows.Next() {
		var (
			path     string
			lastSeen int64
		)
		if err := rows.Scan(&path, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan worktree: %w", err)
		}
		all = append(all, Worktree{RepoID: repoID, Path: path, LastSeen: time.Unix(lastSeen, 0).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read worktrees: %w", err)
	}
	rows.Close()

	out := all[:0]
	for _, wt := range all {
		if info, err := os.Stat(wt.Path); err == nil && info.IsDir() {
			out = append(out, wt)
			continue
		}
		logging.Debug(ctx, "forgetting missing worktree", slog.String("path", wt.Path))
		if err := r.Forget(ctx, repoID, wt.Path); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Forget removes path from repoID's worktrees.
func (r *Registry) Forget(ctx context.Context, repoID, path string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM worktrees WHERE repo_id = ? AND path = ?`, repoID, filepath.Clean(path)); err != nil {
		return fmt.Errorf("failed to forget worktree: %w", err)
	}
	return nil
}
