//go:build unix

package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Lock when another process holds the lock.
var ErrLocked = errors.New("fs: file is locked by another process")

// Lock takes a non-blocking exclusive advisory lock on f.
// Files without an OS descriptor (wrappers, in-memory files) are not locked.
func Lock(f File) error {
	d, ok := f.(fder)
	if !ok {
		return nil
	}
	if err := unix.Flock(int(d.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("fs: flock: %w", err)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func Unlock(f File) error {
	d, ok := f.(fder)
	if !ok {
		return nil
	}
	return unix.Flock(int(d.Fd()), unix.LOCK_UN)
}
