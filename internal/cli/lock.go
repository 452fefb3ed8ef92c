package cli

import (
	"context"
	"errors"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
	"github.com/calvinalkan/dbfile/pkg/lockwait"
)

// exitBusy is the exit code when a non-blocking lock is refused.
const exitBusy = 2

const lockUsage = "lock [flags] <path>"

// LockCmd returns the lock command.
func LockCmd(a *app) *Command {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	shared := fs.BoolP("shared", "s", false, "Take a shared lock instead of exclusive")
	noBlock := fs.Bool("nb", false, "Fail with exit code 2 instead of waiting")
	hold := fs.Duration("hold", 0, "Keep the lock for this long before releasing")
	forever := fs.Bool("until-signal", false, "Keep the lock until interrupted")

	return &Command{
		Flags: fs,
		Usage: lockUsage,
		Short: "Acquire a lock on a file",
		Long: `Open <path> (creating it if needed) and acquire a lock on it.

Without --nb the command waits up to lock_timeout for the lock. The lock is
released when the command exits, after --hold or on interrupt with
--until-signal.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, lockUsage); err != nil {
				return err
			}

			mode := dbfile.Exclusive
			if *shared {
				mode = dbfile.Shared
			}

			return execLock(ctx, o, a, args[0], lockHold{
				mode:    mode,
				noBlock: *noBlock,
				hold:    *hold,
				forever: *forever,
			})
		},
	}
}

type lockHold struct {
	mode    dbfile.LockState
	noBlock bool
	hold    time.Duration
	forever bool
}

func execLock(ctx context.Context, o *IO, a *app, path string, req lockHold) error {
	h, err := dbfile.Open(a.abs(path), os.O_RDWR|os.O_CREATE, 0o644, a.opts)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	if err := a.acquire(ctx, h, req.mode, req.noBlock); err != nil {
		return err
	}

	o.Printf("locked %s %s (%s)\n", path, req.mode, h.LockStrategy())

	switch {
	case req.forever:
		<-ctx.Done()
	case req.hold > 0:
		t := time.NewTimer(req.hold)
		defer t.Stop()

		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}

	return h.Unlock()
}

// acquire takes mode on h, once when noBlock is set, otherwise waiting up
// to the configured lock_timeout. A refused lock exits with exitBusy.
func (a *app) acquire(ctx context.Context, h *dbfile.Handle, mode dbfile.LockState, noBlock bool) error {
	var err error

	if noBlock {
		err = h.TryLock(mode)
	} else {
		timeout, terr := a.cfg.Timeout()
		if terr != nil {
			return terr
		}

		err = lockwait.Acquire(ctx, h, mode, lockwait.Options{Timeout: timeout})
	}

	if err != nil && errors.Is(err, dbfile.ErrLockUnavailable) {
		return withExitCode(exitBusy, err)
	}

	return err
}
