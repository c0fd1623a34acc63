// Package shadow stores the shadow history of one worktree.
//
// The store is a bare git repository under .moss/shadow. Every shadow commit is
// a git commit whose tree holds a meta.json document plus before/<path> and
// after/<path> blobs. Leaf commits are kept reachable through
// refs/moss/tips/<id>, and the current head lives in HEAD_SHADOW, which is
// only ever replaced with a rename.
//
// Commits are loaded into an in-memory arena keyed by id; parent and child
// links are ids, never pointers between commits.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/mod/semver"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/logging"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
)

// FormatVersion is the store format written by this build.
const FormatVersion = "v1.0.0"

// Options configures Open.
type Options struct {
	// Disabled returns a handle that records nothing.
	Disabled bool
}

// Repository is a handle on one worktree's shadow store. It is not safe for
// concurrent use; writers serialize across processes through the store lock.
type Repository struct {
	worktree string
	dir      string
	disabled bool

	repo *git.Repository

	commits  map[plumbing.Hash]*Commit
	children map[plumbing.Hash][]plumbing.Hash
	root     plumbing.Hash
	head     plumbing.Hash
	nextSeq  int64

	corrupt *CorruptHistoryError
}

// Open returns the shadow store for worktreeRoot, creating it if absent.
// Opening twice is harmless. With opts.Disabled the handle is inert.
func Open(ctx context.Context, worktreeRoot string, opts Options) (*Repository, error) {
	r := &Repository{
		worktree: worktreeRoot,
		dir:      paths.ShadowStorePath(worktreeRoot),
		disabled: opts.Disabled,
	}
	if r.disabled {
		r.resetArena()
		return r, nil
	}

	repo, err := openOrInit(r.dir)
	if err != nil {
		return nil, &IOError{Op: "open shadow store", Path: r.dir, Err: err}
	}
	r.repo = repo

	if err := r.checkFormat(); err != nil {
		return nil, err
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func openOrInit(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", paths.MossDir, err)
	}
	repo, err = git.PlainInit(dir, true)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		// Another process created it between our open and init.
		return git.PlainOpen(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, paths.FormatFileName), []byte(FormatVersion+"\n")); err != nil {
		return nil, err
	}
	return repo, nil
}

// checkFormat refuses stores written with a newer major format.
// A missing FORMAT file is treated as v1.0.0.
func (r *Repository) checkFormat() error {
	data, err := os.ReadFile(filepath.Join(r.dir, paths.FormatFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IOError{Op: "read format", Path: r.dir, Err: err}
	}
	v := strings.TrimSpace(string(data))
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: invalid version %q", ErrUnsupportedFormat, v)
	}
	if semver.Compare(semver.Major(v), semver.Major(FormatVersion)) > 0 {
		return fmt.Errorf("%w: store is %s, this moss supports %s", ErrUnsupportedFormat, v, semver.Major(FormatVersion))
	}
	return nil
}

// Enabled reports whether the handle records history.
func (r *Repository) Enabled() bool {
	return !r.disabled
}

// WorktreeRoot returns the worktree the store belongs to.
func (r *Repository) WorktreeRoot() string {
	return r.worktree
}

// Dir returns the store directory.
func (r *Repository) Dir() string {
	return r.dir
}

// LockPath returns the advisory lock file writers must hold.
func (r *Repository) LockPath() string {
	return filepath.Join(r.dir, paths.LockFileName)
}

// Corrupt returns the integrity error found on load, or nil.
func (r *Repository) Corrupt() error {
	if r.corrupt == nil {
		return nil
	}
	return r.corrupt
}

// Writable returns nil if the store accepts writes.
func (r *Repository) Writable() error {
	if r.disabled {
		return ErrDisabled
	}
	if r.corrupt != nil {
		return r.corrupt
	}
	return nil
}

// Head returns the current head, or ZeroHash before the first edit.
func (r *Repository) Head() plumbing.Hash {
	return r.head
}

// HeadCommit returns the commit head points at, or nil before the first edit.
func (r *Repository) HeadCommit() *Commit {
	return r.commits[r.head]
}

// SetHead atomically moves head to id. Only the pointer changes.
func (r *Repository) SetHead(ctx context.Context, id plumbing.Hash) error {
	if err := r.Writable(); err != nil {
		return err
	}
	if _, ok := r.commits[id]; !ok {
		return fmt.Errorf("set head to %s: %w", id, ErrCommitNotFound)
	}
	if err := writeFileAtomic(r.headPath(), []byte(id.String()+"\n")); err != nil {
		return err
	}
	logging.Debug(ctx, "shadow head moved",
		slog.String("from", ShortHash(r.head)),
		slog.String("to", ShortHash(id)),
	)
	r.head = id
	return nil
}

func (r *Repository) headPath() string {
	return filepath.Join(r.dir, paths.HeadFileName)
}

// readHead returns the stored head, ZeroHash if the file does not exist.
func (r *Repository) readHead() (plumbing.Hash, bool, error) {
	data, err := os.ReadFile(r.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return plumbing.ZeroHash, false, nil
		}
		return plumbing.ZeroHash, false, &IOError{Op: "read head", Path: r.headPath(), Err: err}
	}
	s := strings.TrimSpace(string(data))
	if !plumbing.IsHash(s) {
		return plumbing.ZeroHash, true, nil
	}
	return plumbing.NewHash(s), true, nil
}

// writeFileAtomic replaces path with data through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "create temp file", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
