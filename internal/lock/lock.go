// Package lock provides the gateway's two kinds of locks: an flock on the
// restricted dir that keeps a second rsync session out, and per-host lock
// files that keep the backup device open while any host still uses it.
package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("Another instance of rrsync is already accessing this directory.")

// DirLock is an exclusive advisory lock held on a directory.
type DirLock struct {
	f *os.File
}

// TryDir takes a non-blocking exclusive flock on dir. The lock lasts until
// Release or process exit.
func TryDir(dir string) (*DirLock, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening %s for locking: %w", dir, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", dir, err)
	}
	return &DirLock{f: f}, nil
}

// Release drops the lock.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
