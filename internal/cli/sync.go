package cli

import (
	"context"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

const syncUsage = "sync <path>"

// SyncCmd returns the sync command.
func SyncCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("sync", flag.ContinueOnError),
		Usage: syncUsage,
		Short: "Force a file's contents to stable storage",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, syncUsage); err != nil {
				return err
			}

			return execSync(o, a, args[0])
		},
	}
}

func execSync(o *IO, a *app, path string) error {
	h, err := dbfile.Open(a.abs(path), os.O_RDWR, 0, a.opts)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	strategy, err := h.ForceSync()
	if err != nil {
		return err
	}

	if strategy.Degraded() {
		o.Warn("sync used a global flush", "the file may not be durable if the host crashes")
	}

	o.Printf("synced %s (%s)\n", path, strategy)

	return nil
}
