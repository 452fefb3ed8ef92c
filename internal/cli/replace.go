package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

const replaceUsage = "replace [--unlink] <path>"

// ReplaceCmd returns the replace command.
func ReplaceCmd(a *app) *Command {
	fs := flag.NewFlagSet("replace", flag.ContinueOnError)
	unlink := fs.Bool("unlink", false, "Remove an existing file first (overrides on_exists)")

	return &Command{
		Flags: fs,
		Usage: replaceUsage,
		Short: "Durably publish stdin as a file",
		Long: `Write stdin to a synced temp file and link it into place as <path>.
An existing <path> fails unless --unlink is given or on_exists is "unlink".`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 1, replaceUsage); err != nil {
				return err
			}

			policy := a.policy
			if *unlink {
				policy = dbfile.ExistingUnlink
			}

			return execReplace(o, a, args[0], policy)
		},
	}
}

func execReplace(o *IO, a *app, path string, policy dbfile.ExistingPolicy) error {
	b, err := dbfile.SelectBackends(dbfile.HostCapabilities(), a.opts.Select)
	if err != nil {
		return err
	}

	res, err := dbfile.ReplaceFile(a.abs(path), a.in, dbfile.ReplaceOptions{
		Backends: &b,
		OnExists: policy,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	how := "link"
	if res.CopyFallback {
		how = "copy"
	}

	if res.Unlinked {
		how += ", replaced existing"
	}

	if res.SyncStrategy.Degraded() {
		o.Warn("replace used a global flush", "the new file may not be durable if the host crashes")
	}

	o.Printf("replaced %s (%s, %s)\n", path, how, res.SyncStrategy)

	return nil
}
