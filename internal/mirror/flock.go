package mirror

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	lockFilename = ".lock"
)

// Flock wraps an open file for flock(2) based exclusive locking.
type Flock struct {
	f *os.File
}

// Lock acquires an exclusive lock without blocking. It fails if another
// process holds the lock.
func (fl Flock) Lock() error {
	err := unix.Flock(int(fl.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		return errors.Wrapf(err, "lock %s", fl.f.Name())
	}
	return nil
}

// Unlock releases the lock.
func (fl Flock) Unlock() error {
	return unix.Flock(int(fl.f.Fd()), unix.LOCK_UN)
}

// lockDir creates dir/.lock and locks it. The returned function unlocks
// and closes the file; the lock file itself is left in place so that a
// concurrent waiter never locks an unlinked inode.
func lockDir(dir string) (func(), error) {
	st, err := NewStorage(dir)
	if err != nil {
		return nil, err
	}
	p, err := st.Path(lockFilename)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0644) // #nosec G304,G302 - path validated, 0644 standard for lock files
	if err != nil {
		return nil, err
	}

	fileLock := Flock{file}
	if err := fileLock.Lock(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "path", p, "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "path", p, "error", err)
		}
	}, nil
}
