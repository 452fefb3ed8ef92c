package dbfile_test

import (
	"testing"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

func Test_ProcessScopedLocks_Reports_Backend_Ownership(t *testing.T) {
	t.Parallel()
	requireFileLocks(t)

	path := tempDB(t)

	if openHandle(t, path, optsFor(dbfile.LockWholeFile)).ProcessScopedLocks() {
		t.Fatal("whole-file handle: ProcessScopedLocks()=true, want false")
	}

	if !openHandle(t, path, optsFor(dbfile.LockByteRange)).ProcessScopedLocks() {
		t.Fatal("byte-range handle: ProcessScopedLocks()=false, want true")
	}
}

func Test_ByteRange_Sibling_State_Follows_Process_Lock_When_Either_Handle_Locks(t *testing.T) {
	t.Parallel()
	requireFileLocks(t)

	path := tempDB(t)
	a := openHandle(t, path, optsFor(dbfile.LockByteRange))
	b := openHandle(t, path, optsFor(dbfile.LockByteRange))

	if err := a.TryLock(dbfile.Exclusive); err != nil {
		t.Fatalf("a.TryLock(exclusive): %v", err)
	}

	if got := b.State(); got != dbfile.Exclusive {
		t.Fatalf("b.State()=%s after a locked exclusive, want exclusive (process-owned lock)", got)
	}

	// Same process: no conflict, the lock is replaced.
	if err := b.TryLock(dbfile.Shared); err != nil {
		t.Fatalf("b.TryLock(shared): %v", err)
	}

	if got := a.State(); got != dbfile.Shared {
		t.Fatalf("a.State()=%s after b replaced the lock, want shared", got)
	}

	if err := b.Unlock(); err != nil {
		t.Fatalf("b.Unlock: %v", err)
	}

	if got := a.State(); got != dbfile.Unlocked {
		t.Fatalf("a.State()=%s after b unlocked, want unlocked", got)
	}
}

func Test_ByteRange_Close_Releases_Sibling_Lock_When_Sibling_Holds_It(t *testing.T) {
	t.Parallel()
	requireFileLocks(t)

	path := tempDB(t)
	a := openHandle(t, path, optsFor(dbfile.LockByteRange))
	b := openHandle(t, path, optsFor(dbfile.LockByteRange))

	if err := a.TryLock(dbfile.Exclusive); err != nil {
		t.Fatalf("a.TryLock(exclusive): %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("b.Close: %v", err)
	}

	if got := a.State(); got != dbfile.Unlocked {
		t.Fatalf("a.State()=%s after sibling close, want unlocked", got)
	}

	if err := a.TryLock(dbfile.Exclusive); err != nil {
		t.Fatalf("a.TryLock(exclusive) after sibling close: %v", err)
	}
}

func Test_ByteRange_New_Handle_Sees_Held_Lock_When_Opened_After_Lock(t *testing.T) {
	t.Parallel()
	requireFileLocks(t)

	path := tempDB(t)
	a := openHandle(t, path, optsFor(dbfile.LockByteRange))

	if err := a.TryLock(dbfile.Shared); err != nil {
		t.Fatalf("a.TryLock(shared): %v", err)
	}

	b := openHandle(t, path, optsFor(dbfile.LockByteRange))
	if got := b.State(); got != dbfile.Shared {
		t.Fatalf("b.State()=%s, want shared", got)
	}
}
