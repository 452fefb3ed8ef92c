package cli

import (
	"context"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

const truncateUsage = "truncate [--nb] <path>"

// TruncateCmd returns the truncate command.
func TruncateCmd(a *app) *Command {
	fs := flag.NewFlagSet("truncate", flag.ContinueOnError)
	noBlock := fs.Bool("nb", false, "Fail with exit code 2 if the file is locked")

	return &Command{
		Flags: fs,
		Usage: truncateUsage,
		Short: "Reset a file to zero length under an exclusive lock",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, truncateUsage); err != nil {
				return err
			}

			return execTruncate(ctx, o, a, args[0], *noBlock)
		},
	}
}

func execTruncate(ctx context.Context, o *IO, a *app, path string, noBlock bool) error {
	h, err := dbfile.Open(a.abs(path), os.O_RDWR, 0, a.opts)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	if err := a.acquire(ctx, h, dbfile.Exclusive, noBlock); err != nil {
		return err
	}

	if err := h.TruncateToEmpty(); err != nil {
		return err
	}

	if _, err := h.ForceSync(); err != nil {
		return err
	}

	o.Printf("truncated %s (%s)\n", path, h.TruncateStrategy())

	return h.Unlock()
}
