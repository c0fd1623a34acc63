// Package engine records edits into the shadow history and navigates it:
// RecordEdit, Undo, Redo, Goto, History, Status, Hunks and Show.
//
// Every mutating operation takes the store lock, reloads the history, checks
// all affected working files before writing any of them, and moves head last.
// Read-only operations reload without the lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/checkpoint"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/conflict"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/lock"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// Config wires an Engine.
type Config struct {
	Repo *shadow.Repository

	// Resolver reports the real VCS HEAD. Defaults to a go-git resolver on
	// the store's worktree.
	Resolver checkpoint.HeadResolver

	// Settings defaults to settings.Defaults().
	Settings *settings.MossSettings

	// AfterRecord runs after every successful RecordEdit, still under the
	// store lock. Automatic retention hooks in here. Its error is logged,
	// never returned.
	AfterRecord func(ctx context.Context, repo *shadow.Repository) error
}

// Engine operates on one worktree's shadow store.
type Engine struct {
	repo        *shadow.Repository
	resolver    checkpoint.HeadResolver
	monitor     *checkpoint.Monitor
	detector    *conflict.Detector
	settings    *settings.MossSettings
	afterRecord func(ctx context.Context, repo *shadow.Repository) error
	now         func() time.Time

	// mu serializes operations of this process on the in-memory history;
	// the store lock only orders writers across processes.
	mu sync.Mutex
}

// New returns an Engine for cfg.Repo.
func New(cfg Config) *Engine {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = checkpoint.GitHeadResolver{WorktreeRoot: cfg.Repo.WorktreeRoot()}
	}
	s := cfg.Settings
	if s == nil {
		s = settings.Defaults()
	}
	return &Engine{
		repo:     cfg.Repo,
		resolver: resolver,
		monitor:  &checkpoint.Monitor{Repo: cfg.Repo, Resolver: resolver},
		detector: &conflict.Detector{
			Root:                 cfg.Repo.WorktreeRoot(),
			NormalizeLineEndings: s.NormalizeLineEndings,
			Lookup:               cfg.Repo.ReadBlob,
		},
		settings:    s,
		afterRecord: cfg.AfterRecord,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Repo returns the underlying store.
func (e *Engine) Repo() *shadow.Repository {
	return e.repo
}

// crossCheckpoint resolves the effective override flag.
func (e *Engine) crossCheckpoint(requested bool) bool {
	return requested || e.settings.CrossCheckpointDefault
}

// mutate runs fn while holding the store lock, on freshly loaded history.
func (e *Engine) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !e.repo.Enabled() {
		return shadow.ErrDisabled
	}
	ctx = operationContext(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	lk, err := lock.Acquire(ctx, e.repo.LockPath())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logging.Warn(ctx, "failed to release store lock", slog.String("error", err.Error()))
		}
	}()

	if err := e.repo.Reload(ctx); err != nil {
		return err
	}
	if err := e.repo.Writable(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		level := slog.LevelError
		if IsNavigationError(err) {
			level = slog.LevelInfo
		}
		logging.LogDuration(ctx, level, op+" failed", start, slog.String("error", err.Error()))
		return err
	}
	logging.LogDuration(ctx, slog.LevelInfo, op+" completed", start)
	return nil
}

// view runs fn on freshly loaded history without the store lock. Corrupt
// stores can still be read.
func (e *Engine) view(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !e.repo.Enabled() {
		return shadow.ErrDisabled
	}
	ctx = operationContext(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.reloadUnlocked(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fn(ctx)
}

const (
	reloadAttempts   = 3
	reloadRetryDelay = 20 * time.Millisecond
)

// reloadUnlocked loads the history while a writer may be running. Writers
// publish objects, then tip refs, then head, and prunes drop tips before
// objects, so a reader can catch one between two steps: a head whose tip it
// listed too early, or a tip whose objects are already gone. Both look like
// corruption and disappear on the next load.
func (e *Engine) reloadUnlocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := e.repo.Reload(ctx)
		if err == nil && e.repo.Corrupt() == nil {
			return nil
		}
		if attempt == reloadAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reloadRetryDelay):
		}
	}
}

func operationContext(ctx context.Context) context.Context {
	ctx = logging.WithComponent(ctx, "engine")
	if logging.OperationIDFromContext(ctx) == "" {
		ctx = logging.WithOperation(ctx, logging.NewOperationID())
	}
	return ctx
}

// Init creates the store and its root commit if they do not exist yet and
// returns the root id.
func (e *Engine) Init(ctx context.Context) (plumbing.Hash, error) {
	var root plumbing.Hash
	err := e.mutate(ctx, "init", func(ctx context.Context) error {
		var err error
		root, err = e.ensureRoot(ctx)
		return err
	})
	return root, err
}

// ensureRoot writes the root commit capturing the current real HEAD.
func (e *Engine) ensureRoot(ctx context.Context) (plumbing.Hash, error) {
	if root := e.repo.Root(); root != plumbing.ZeroHash {
		return root, nil
	}
	realHead, err := e.resolver.RealHead(ctx)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving real HEAD: %w", err)
	}
	root, err := e.repo.WriteCommit(ctx, &shadow.Commit{
		Operation:   shadow.OpInit,
		Message:     "baseline",
		RealVCSHead: realHead,
		Timestamp:   e.now(),
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if err := e.repo.SetHead(ctx, root); err != nil {
		return plumbing.ZeroHash, err
	}
	logging.Info(ctx, "shadow history initialized",
		slog.String("root", shadow.ShortHash(root)),
		slog.String("real_head", realHead),
	)
	return root, nil
}

// requireHead returns the head commit, failing on an empty store.
func (e *Engine) requireHead() (*shadow.Commit, error) {
	head := e.repo.HeadCommit()
	if head == nil {
		return nil, fmt.Errorf("no shadow history yet: %w", shadow.ErrCommitNotFound)
	}
	return head, nil
}

// IsNavigationError reports whether err is one of the typed errors callers
// are expected to handle rather than treat as a failure of moss itself.
func IsNavigationError(err error) bool {
	var (
		conflictErr *shadow.ConflictError
		redoErr     *shadow.AmbiguousRedoError
		boundaryErr *shadow.CheckpointBoundaryError
		liveErr     *shadow.LiveDescendantsError
	)
	return errors.As(err, &conflictErr) || errors.As(err, &redoErr) ||
		errors.As(err, &boundaryErr) || errors.As(err, &liveErr) ||
		errors.Is(err, shadow.ErrNoRedoTarget) || errors.Is(err, shadow.ErrNothingToUndo)
}
