//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package dbfile

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

func hostCapabilities() Capabilities {
	return Capabilities{
		WholeFileLock:  true,
		ByteRangeLock:  true,
		NativeSync:     true,
		NativeTruncate: true,
		HardLink:       true,
	}
}

// globalFlush schedules all dirty buffers system-wide for writing.
var globalFlush = func() { unix.Sync() }

// classifyPosixLock maps a single flock/fcntl result to an outcome.
// EINTR is reported as WouldBlock; callers that want to wait retry.
func classifyPosixLock(err error) (LockOutcome, error) {
	switch {
	case err == nil:
		return Acquired, nil
	case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EAGAIN),
		errors.Is(err, unix.EACCES), errors.Is(err, unix.EINTR):
		return WouldBlock, err
	default:
		return Denied, err
	}
}

// flockLock locks the open file description with flock(2). Separate opens of
// the same file conflict even within one process.
type flockLock struct{}

func newWholeFileLock() LockBackend { return flockLock{} }

func (flockLock) Strategy() LockStrategy { return LockWholeFile }
func (flockLock) ProcessScoped() bool    { return false }
func (flockLock) AtomicConvert() bool    { return false }

func (flockLock) Acquire(fd uintptr, mode LockState, blocking bool) (LockOutcome, error) {
	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	if !blocking {
		how |= unix.LOCK_NB
	}

	return classifyPosixLock(unix.Flock(int(fd), how))
}

func (flockLock) Release(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}

// fcntlLock takes a POSIX record lock over the whole file (start 0,
// length 0). Record locks are owned by the process.
type fcntlLock struct{}

func newByteRangeLock() LockBackend { return fcntlLock{} }

func (fcntlLock) Strategy() LockStrategy { return LockByteRange }
func (fcntlLock) ProcessScoped() bool    { return true }
func (fcntlLock) AtomicConvert() bool    { return true }

func (fcntlLock) Acquire(fd uintptr, mode LockState, blocking bool) (LockOutcome, error) {
	lk := unix.Flock_t{
		Type:   unix.F_RDLCK,
		Whence: io.SeekStart,
	}
	if mode == Exclusive {
		lk.Type = unix.F_WRLCK
	}

	cmd := unix.F_SETLK
	if blocking {
		cmd = unix.F_SETLKW
	}

	return classifyPosixLock(unix.FcntlFlock(fd, cmd, &lk))
}

func (fcntlLock) Release(fd uintptr) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: io.SeekStart,
	}

	return unix.FcntlFlock(fd, unix.F_SETLK, &lk)
}

func newMandatoryLock() LockBackend { return nil }

func setEndOfFile(f fs.File, off int64) error {
	return unix.Ftruncate(int(f.Fd()), off)
}

func hardLink(existing, newPath string) error {
	return unix.Link(existing, newPath)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}

func identify(fd uintptr) (fileIdentity, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return fileIdentity{}, err
	}

	return fileIdentity{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}
