//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package dbfile

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func Test_classifyLinkErr_Maps_Errno_When_Link_Fails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		errno unix.Errno
		want  LinkErrorKind
	}{
		{unix.EXDEV, LinkCrossDevice},
		{unix.EEXIST, LinkAlreadyExists},
		{unix.EPERM, LinkPermissionDenied},
		{unix.EACCES, LinkPermissionDenied},
		{unix.ENOTSUP, LinkUnsupported},
		{unix.EIO, LinkOther},
	}

	for _, tc := range tests {
		err := &os.LinkError{Op: "link", Old: "a", New: "b", Err: tc.errno}
		if got := classifyLinkErr(err); got != tc.want {
			t.Errorf("classifyLinkErr(%v)=%s, want %s", tc.errno, got, tc.want)
		}
	}
}

func Test_classifyPosixLock_Separates_WouldBlock_From_Denied(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want LockOutcome
	}{
		{nil, Acquired},
		{unix.EWOULDBLOCK, WouldBlock},
		{unix.EAGAIN, WouldBlock},
		{unix.EACCES, WouldBlock},
		{unix.EINTR, WouldBlock},
		{unix.EBADF, Denied},
		{unix.EDEADLK, Denied},
		{unix.ENOLCK, Denied},
	}

	for _, tc := range tests {
		got, _ := classifyPosixLock(tc.err)
		if got != tc.want {
			t.Errorf("classifyPosixLock(%v)=%s, want %s", tc.err, got, tc.want)
		}
	}
}
