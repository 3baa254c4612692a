package config

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// ErrDirectoryInUse is returned by AcquireDirectoryLock when another
// process already holds the lock on the same data directory — the direct
// analogue of the original engine's "storage directory exists" guard and of
// untoldecay-BeadsLog's "another sync is in progress" check.
var ErrDirectoryInUse = fmt.Errorf("config: data directory is locked by another process")

// AcquireDirectoryLock takes an exclusive advisory lock on <DataDir>/LOCK so
// two processes cannot open the same database directory concurrently. The
// returned lock must be released with ReleaseDirectoryLock (or by closing the process)
// when the engine shuts down.
func AcquireDirectoryLock(c Config) (*flock.Flock, error) {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}

	lock := flock.New(c.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("config: acquire directory lock: %w", err)
	}
	if !locked {
		return nil, ErrDirectoryInUse
	}
	return lock, nil
}

// ReleaseDirectoryLock unlocks and releases a lock obtained from
// AcquireDirectoryLock. Safe to call on nil.
func ReleaseDirectoryLock(lock *flock.Flock) error {
	if lock == nil {
		return nil
	}
	return lock.Unlock()
}
