// Package lock serializes mutating commands against one shadow store with an
// advisory file lock. Readers (history, status) never take it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrFileLocked is returned by a FileLocker when another process holds the lock.
var ErrFileLocked = errors.New("file is locked by another process")

// DefaultPollInterval is how often Acquire retries a held lock.
const DefaultPollInterval = 25 * time.Millisecond

// FileLocker abstracts platform-specific file locking.
// Lock must not block: it returns ErrFileLocked when the lock is held.
type FileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	file   *os.File
	locker FileLocker
}

// Acquire takes the exclusive lock at path, creating the file if needed.
// It polls until the lock is free or ctx is done.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	return acquire(ctx, path, newPlatformLocker(), DefaultPollInterval)
}

func acquire(ctx context.Context, path string, locker FileLocker, interval time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path is the store's lock file
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := locker.Lock(f)
		if err == nil {
			return &Lock{file: f, locker: locker}, nil
		}
		if !errors.Is(err, ErrFileLocked) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, errors.Join(ErrFileLocked, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := l.locker.Unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to unlock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}
