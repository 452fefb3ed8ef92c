//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package dbfile

import (
	"errors"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

func hostCapabilities() Capabilities {
	return Capabilities{
		NativeSync:     true,
		NativeTruncate: true,
	}
}

var globalFlush func()

func newWholeFileLock() LockBackend { return nil }
func newByteRangeLock() LockBackend { return nil }
func newMandatoryLock() LockBackend { return nil }

func setEndOfFile(f fs.File, off int64) error {
	return f.Truncate(off)
}

func hardLink(string, string) error {
	return errors.ErrUnsupported
}

func isCrossDevice(error) bool { return false }

func identify(uintptr) (fileIdentity, error) {
	return fileIdentity{}, errors.ErrUnsupported
}
