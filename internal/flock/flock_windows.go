//go:build windows

package flock

import (
	"errors"

	"golang.org/x/sys/windows"
)

const lockRange = 1

func (lk *Flock) sysTryLock() error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(
		windows.Handle(lk.fp.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, lockRange, 0, ol,
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_LOCK_VIOLATION):
		return ErrNoLock
	default:
		return err
	}
}

func (lk *Flock) sysUnlock() error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(lk.fp.Fd()), 0, lockRange, 0, ol)
}
