package lockwait_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
	"github.com/calvinalkan/dbfile/pkg/lockwait"
)

// scriptedLocker returns outcomes in order, then Acquired.
type scriptedLocker struct {
	outcomes []dbfile.LockOutcome
	errs     []error
	calls    int
}

func (s *scriptedLocker) Acquire(dbfile.LockRequest) (dbfile.LockOutcome, error) {
	i := s.calls
	s.calls++

	if i >= len(s.outcomes) {
		return dbfile.Acquired, nil
	}

	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}

	return s.outcomes[i], err
}

// contendedLocker never grants the lock.
type contendedLocker struct {
	calls int
}

func (c *contendedLocker) Acquire(dbfile.LockRequest) (dbfile.LockOutcome, error) {
	c.calls++

	return dbfile.WouldBlock, busy()
}

func busy() error {
	return errors.Join(dbfile.ErrLockUnavailable, syscall.EAGAIN)
}

func Test_Acquire_Retries_When_Outcome_Is_WouldBlock(t *testing.T) {
	t.Parallel()

	l := &scriptedLocker{
		outcomes: []dbfile.LockOutcome{dbfile.WouldBlock, dbfile.WouldBlock, dbfile.WouldBlock},
		errs:     []error{busy(), busy(), busy()},
	}

	err := lockwait.Acquire(t.Context(), l, dbfile.Exclusive, lockwait.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if l.calls != 4 {
		t.Fatalf("calls=%d, want 4", l.calls)
	}
}

func Test_Acquire_Returns_Immediately_When_Outcome_Is_Denied(t *testing.T) {
	t.Parallel()

	denied := errors.Join(dbfile.ErrLockDenied, syscall.EBADF)
	l := &scriptedLocker{outcomes: []dbfile.LockOutcome{dbfile.Denied}, errs: []error{denied}}

	err := lockwait.Acquire(t.Context(), l, dbfile.Shared, lockwait.Options{Timeout: time.Second})
	if !errors.Is(err, dbfile.ErrLockDenied) {
		t.Fatalf("Acquire: err=%v, want ErrLockDenied", err)
	}

	if l.calls != 1 {
		t.Fatalf("calls=%d, want 1 (no retry on denied)", l.calls)
	}
}

func Test_Acquire_Returns_Immediately_When_Lock_Was_Lost(t *testing.T) {
	t.Parallel()

	lost := errors.Join(dbfile.ErrLockLost, busy())
	l := &scriptedLocker{outcomes: []dbfile.LockOutcome{dbfile.WouldBlock}, errs: []error{lost}}

	err := lockwait.Acquire(t.Context(), l, dbfile.Exclusive, lockwait.Options{})
	if !errors.Is(err, dbfile.ErrLockLost) {
		t.Fatalf("Acquire: err=%v, want ErrLockLost", err)
	}

	if l.calls != 1 {
		t.Fatalf("calls=%d, want 1", l.calls)
	}
}

func Test_Acquire_Returns_ErrLockUnavailable_When_Timeout_Expires(t *testing.T) {
	t.Parallel()

	l := &contendedLocker{}

	start := time.Now()

	err := lockwait.Acquire(t.Context(), l, dbfile.Exclusive, lockwait.Options{Timeout: 30 * time.Millisecond})
	if !errors.Is(err, dbfile.ErrLockUnavailable) {
		t.Fatalf("Acquire: err=%v, want ErrLockUnavailable", err)
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("Acquire returned after %s, before the timeout", elapsed)
	}

	if l.calls < 2 {
		t.Fatalf("calls=%d, want at least 2", l.calls)
	}
}

func Test_Acquire_Returns_Context_Error_When_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	l := &scriptedLocker{outcomes: []dbfile.LockOutcome{dbfile.WouldBlock, dbfile.WouldBlock}}

	err := lockwait.Acquire(ctx, l, dbfile.Shared, lockwait.Options{})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, dbfile.ErrLockUnavailable) {
		t.Fatalf("Acquire: err=%v, want context.Canceled and ErrLockUnavailable", err)
	}
}

func Test_Acquire_Waits_For_Release_When_Real_Handle_Is_Contended(t *testing.T) {
	t.Parallel()

	if !dbfile.HostCapabilities().WholeFileLock {
		t.Skip("requires flock")
	}

	path := filepath.Join(t.TempDir(), "wait.db")
	opts := dbfile.Options{Select: dbfile.Selection{Lock: dbfile.LockWholeFile}}

	holder, err := dbfile.Open(path, os.O_RDWR|os.O_CREATE, 0o644, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = holder.Close() }()

	waiter, err := dbfile.Open(path, os.O_RDWR, 0, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	defer func() { _ = waiter.Close() }()

	if err := holder.Lock(dbfile.Exclusive); err != nil {
		t.Fatalf("holder.Lock: %v", err)
	}

	time.AfterFunc(20*time.Millisecond, func() { _ = holder.Unlock() })

	err = lockwait.Acquire(t.Context(), waiter, dbfile.Exclusive, lockwait.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if got := waiter.State(); got != dbfile.Exclusive {
		t.Fatalf("waiter.State()=%s, want exclusive", got)
	}
}
