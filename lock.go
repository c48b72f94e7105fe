//go:build darwin || linux

// Advisory file locking.
//
// An open Archive holds an exclusive flock(2) on its file so that a second
// process (or a second Load in this process) cannot mutate the same archive
// concurrently. The lock is taken without blocking: a busy archive fails
// Load with ErrLocked instead of waiting.
//
// flock locks belong to the open file description, so when compaction
// renames a new file over the old one the lock must be moved to the new
// handle with moveTo.
package quire

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

type fileLock struct {
	f *os.File
}

// lockFile acquires the exclusive lock on f.
func lockFile(f *os.File) (*fileLock, error) {
	l := &fileLock{}
	if err := l.setFile(f); err != nil {
		return nil, err
	}
	return l, nil
}

// setFile moves the lock to f.
func (l *fileLock) setFile(f *os.File) error {
	if err := l.unlock(); err != nil {
		return err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
	l.f = f
	return nil
}

// unlock releases the lock. It is a no-op when nothing is held.
func (l *fileLock) unlock() error {
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// moveTo takes the lock on f after the previously locked handle has been
// closed, which already released its lock.
func (l *fileLock) moveTo(f *os.File) error {
	l.f = nil
	return l.setFile(f)
}
