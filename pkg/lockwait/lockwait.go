// Package lockwait waits for dbfile locks by polling non-blocking requests.
//
// A blocking [dbfile.Handle.Lock] cannot be cancelled or bounded. Acquire
// trades a little latency for both: it issues non-blocking requests and
// sleeps with exponential backoff between them until the lock is granted,
// the timeout expires, or the context is done.
package lockwait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

const (
	DefaultMinBackoff = time.Millisecond
	DefaultMaxBackoff = 25 * time.Millisecond
)

// Locker is the part of [dbfile.Handle] that Acquire drives.
type Locker interface {
	Acquire(req dbfile.LockRequest) (dbfile.LockOutcome, error)
}

var _ Locker = (*dbfile.Handle)(nil)

// Options bounds the wait.
type Options struct {
	// Timeout is the total wait. Zero waits until ctx is done.
	Timeout time.Duration

	// MinBackoff and MaxBackoff bound the sleep between attempts. Zero values
	// use [DefaultMinBackoff] and [DefaultMaxBackoff].
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Acquire takes mode on l, retrying while the outcome is
// [dbfile.WouldBlock].
//
// A [dbfile.Denied] outcome, or a mode change that lost the held lock
// ([dbfile.ErrLockLost]), is returned immediately. When the timeout
// expires the error matches [dbfile.ErrLockUnavailable] and says how long it
// waited; when ctx is done it matches both [dbfile.ErrLockUnavailable] and
// ctx.Err().
//
// The timeout is best-effort: sleeps may overshoot under scheduler delay.
func Acquire(ctx context.Context, l Locker, mode dbfile.LockState, opts Options) error {
	if opts.Timeout < 0 {
		return fmt.Errorf("lockwait: negative timeout %s", opts.Timeout)
	}

	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = DefaultMinBackoff
	}

	maxBackoff := max(opts.MaxBackoff, minBackoff)
	if opts.MaxBackoff <= 0 {
		maxBackoff = max(DefaultMaxBackoff, minBackoff)
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	backoff := minBackoff

	for {
		outcome, err := l.Acquire(dbfile.LockRequest{Mode: mode})
		if outcome == dbfile.Acquired {
			return nil
		}

		// A lost lock means state read under it must be re-validated, which
		// only the caller can do.
		if outcome != dbfile.WouldBlock || errors.Is(err, dbfile.ErrLockLost) {
			return err
		}

		sleep := backoff

		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("%w: %s: timed out after %s", dbfile.ErrLockUnavailable, mode, opts.Timeout)
			}

			sleep = min(sleep, remaining)
		}

		if err := wait(ctx, sleep); err != nil {
			return fmt.Errorf("%w: %s: %w", dbfile.ErrLockUnavailable, mode, err)
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
