package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLocker simulates a lock held by another process until released.
type fakeLocker struct {
	mu      sync.Mutex
	held    bool
	failErr error
}

func (f *fakeLocker) Lock(*os.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if f.held {
		return ErrFileLocked
	}
	f.held = true
	return nil
}

func (f *fakeLocker) Unlock(*os.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	return nil
}

func TestAcquire_CreatesLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lock")

	l, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Release()) }()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	locker := &fakeLocker{held: true}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = locker.Unlock(nil)
	}()

	l, err := acquire(context.Background(), path, locker, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	locker := &fakeLocker{held: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := acquire(ctx, path, locker, 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileLocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_PropagatesLockFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	boom := errors.New("boom")

	_, err := acquire(context.Background(), path, &fakeLocker{failErr: boom}, time.Millisecond)
	assert.ErrorIs(t, err, boom)
}

func TestRelease_NilSafe(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}

func TestAcquire_ReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	l, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	l, err = Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}
