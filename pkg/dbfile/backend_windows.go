//go:build windows

package dbfile

import (
	"errors"

	"golang.org/x/sys/windows"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

func hostCapabilities() Capabilities {
	return Capabilities{
		MandatoryLock: true,
		NativeSync:    true,
		HardLink:      true,
	}
}

// No system-wide flush exists on Windows.
var globalFlush func()

// lockRange covers every byte the file could ever have.
const lockRange = 0xffffffff

type lockFileEx struct{}

func newWholeFileLock() LockBackend { return nil }
func newByteRangeLock() LockBackend { return nil }
func newMandatoryLock() LockBackend { return lockFileEx{} }

func (lockFileEx) Strategy() LockStrategy { return LockMandatory }
func (lockFileEx) ProcessScoped() bool    { return false }
func (lockFileEx) AtomicConvert() bool    { return false }

// Acquire issues one LockFileEx call. A request left pending is completed
// with GetOverlappedResult; a failed completion is reported as Denied.
func (lockFileEx) Acquire(fd uintptr, mode LockState, blocking bool) (LockOutcome, error) {
	h := windows.Handle(fd)

	var flags uint32
	if mode == Exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}

	if !blocking {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}

	ol := new(windows.Overlapped)

	err := windows.LockFileEx(h, flags, 0, lockRange, lockRange, ol)
	switch {
	case err == nil:
		return Acquired, nil
	case errors.Is(err, windows.ERROR_IO_PENDING):
		var done uint32
		if err := windows.GetOverlappedResult(h, ol, &done, true); err != nil {
			return Denied, err
		}

		return Acquired, nil
	case !blocking && errors.Is(err, windows.ERROR_LOCK_VIOLATION):
		return WouldBlock, err
	default:
		return Denied, err
	}
}

func (lockFileEx) Release(fd uintptr) error {
	ol := new(windows.Overlapped)

	err := windows.UnlockFileEx(windows.Handle(fd), 0, lockRange, lockRange, ol)
	if errors.Is(err, windows.ERROR_NOT_LOCKED) {
		return nil
	}

	return err
}

// setEndOfFile marks end-of-file at the handle's current position; off is
// where the caller has already seeked.
func setEndOfFile(f fs.File, _ int64) error {
	return windows.SetEndOfFile(windows.Handle(f.Fd()))
}

func hardLink(existing, newPath string) error {
	from, err := windows.UTF16PtrFromString(existing)
	if err != nil {
		return err
	}

	to, err := windows.UTF16PtrFromString(newPath)
	if err != nil {
		return err
	}

	return windows.CreateHardLink(to, from, 0)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}

func identify(uintptr) (fileIdentity, error) {
	return fileIdentity{}, errors.ErrUnsupported
}
