package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// dirLock is the exclusive cross-process lock on an index directory.
// It lives beside the directory (<dir>.lock) so the directory itself can be
// created, cleared and removed while the lock is held.
type dirLock struct {
	flock  *flock.Flock
	locked bool
}

func lockPath(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

func newDirLock(dir string) *dirLock {
	return &dirLock{flock: flock.New(lockPath(dir))}
}

// acquire retries a non-blocking lock until timeout.
func (l *dirLock) acquire(ctx context.Context, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	return ixerrors.Retry(ctx, ixerrors.RetryFor(timeout), func() error {
		ok, err := l.flock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !ok {
			return ixerrors.New(ixerrors.ErrCodeIndexLocked,
				"index directory is locked by another writer: "+l.flock.Path(), nil)
		}
		l.locked = true
		return nil
	})
}

// release is safe to call on an unlocked lock.
func (l *dirLock) release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
