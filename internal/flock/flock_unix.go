//go:build unix

package flock

import (
	"errors"

	"golang.org/x/sys/unix"
)

func (lk *Flock) sysTryLock() error {
	fd := int(lk.fp.Fd())
	err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return ErrNoLock
	default:
		return err
	}
}

func (lk *Flock) sysUnlock() error {
	return unix.Flock(int(lk.fp.Fd()), unix.LOCK_UN)
}
