package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/registry"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/retention"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

// app is everything a command needs for the current worktree.
type app struct {
	root     string
	settings *settings.MossSettings
	engine   *engine.Engine
	registry *registry.Registry
	repoID   string
}

// openApp resolves the worktree, loads settings, starts logging, opens the
// shadow store and registers the worktree. Call close when done.
func openApp(ctx context.Context) (*app, error) {
	root, err := paths.WorktreeRoot()
	if err != nil {
		return nil, err
	}
	s, err := settings.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	logging.SetLogLevelGetter(func() string { return s.LogLevel })
	if err := logging.Init(root); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	ctx = logging.WithWorktree(ctx, root)

	repo, err := shadow.Open(ctx, root, shadow.Options{Disabled: !s.Enabled})
	if err != nil {
		logging.Close()
		return nil, err
	}

	a := &app{root: root, settings: s}
	a.engine = engine.New(engine.Config{
		Repo:        repo,
		Settings:    s,
		AfterRecord: retention.Hook(s.RetentionDays),
	})

	if s.Enabled {
		a.openRegistry(ctx)
	}
	return a, nil
}

// openRegistry registers the worktree. The registry only serves
// cross-worktree retention, so failures are logged and otherwise ignored.
func (a *app) openRegistry(ctx context.Context) {
	path, err := paths.RegistryPath()
	if err != nil {
		logging.Warn(ctx, "worktree registry unavailable", slog.String("error", err.Error()))
		return
	}
	reg, err := registry.Open(path)
	if err != nil {
		logging.Warn(ctx, "worktree registry unavailable", slog.String("error", err.Error()))
		return
	}
	a.repoID = paths.LogicalRepoID(ctx, a.root)
	if err := reg.Register(ctx, a.repoID, a.root); err != nil {
		logging.Warn(ctx, "failed to register worktree", slog.String("error", err.Error()))
	}
	a.registry = reg
}

// pruner returns a retention pruner bound to this worktree and its siblings.
func (a *app) pruner() *retention.Pruner {
	p := &retention.Pruner{Engine: a.engine, RepoID: a.repoID}
	if a.registry != nil {
		p.Registry = a.registry
	}
	return p
}

func (a *app) close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	logging.Close()
}

// withApp opens the app for the duration of fn and translates typed errors.
func withApp(ctx context.Context, errOut io.Writer, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	ctx = logging.WithWorktree(ctx, a.root)
	if err := fn(ctx, a); err != nil {
		return reportError(errOut, err)
	}
	return nil
}
