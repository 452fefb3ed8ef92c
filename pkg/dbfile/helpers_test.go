package dbfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

func requireFileLocks(t *testing.T) {
	t.Helper()

	caps := dbfile.HostCapabilities()
	if !caps.WholeFileLock || !caps.ByteRangeLock {
		t.Skipf("requires flock and fcntl locks (host: %s)", caps)
	}
}

func optsFor(strategy dbfile.LockStrategy) dbfile.Options {
	return dbfile.Options{Select: dbfile.Selection{Lock: strategy}}
}

// openHandle opens path read-write, creating it, and closes it on cleanup.
func openHandle(t *testing.T, path string, opts dbfile.Options) *dbfile.Handle {
	t.Helper()

	h, err := dbfile.Open(path, os.O_RDWR|os.O_CREATE, 0o644, opts)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}

	t.Cleanup(func() { _ = h.Close() })

	return h
}

func tempDB(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "test.db")
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", path, err)
	}

	return string(data)
}

// fakeLock is an in-memory lock backend. outcomes are consumed one per
// Acquire; once exhausted every Acquire succeeds.
type fakeLock struct {
	outcomes []dbfile.LockOutcome
	converts bool

	acquires atomic.Int32
	releases atomic.Int32
}

func (f *fakeLock) Strategy() dbfile.LockStrategy { return dbfile.LockWholeFile }
func (f *fakeLock) ProcessScoped() bool           { return false }
func (f *fakeLock) AtomicConvert() bool           { return f.converts }

func (f *fakeLock) Acquire(uintptr, dbfile.LockState, bool) (dbfile.LockOutcome, error) {
	n := int(f.acquires.Add(1)) - 1
	if n >= len(f.outcomes) {
		return dbfile.Acquired, nil
	}

	switch f.outcomes[n] {
	case dbfile.WouldBlock:
		return dbfile.WouldBlock, syscall.EAGAIN
	case dbfile.Denied:
		return dbfile.Denied, syscall.EBADF
	default:
		return dbfile.Acquired, nil
	}
}

func (f *fakeLock) Release(uintptr) error {
	f.releases.Add(1)

	return nil
}

// fakeLink returns a fixed link error.
type fakeLink struct {
	kind dbfile.LinkErrorKind
}

func (f fakeLink) Link(existing, newPath string) error {
	return &dbfile.LinkError{Kind: f.kind, Old: existing, New: newPath, Err: errors.New("fake link failure")}
}

// fakeBackends returns portable backends around lock.
func fakeBackends(lock dbfile.LockBackend) *dbfile.Backends {
	return &dbfile.Backends{
		Lock:     lock,
		Sync:     dbfile.NativeSync(),
		Truncate: dbfile.NativeTruncate(),
		Link:     dbfile.NativeLink(),
	}
}
