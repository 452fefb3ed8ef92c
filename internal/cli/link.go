package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

const linkUsage = "link <existing> <new>"

// LinkCmd returns the link command.
func LinkCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("link", flag.ContinueOnError),
		Usage: linkUsage,
		Short: "Create a hard link without overwriting",
		Long: `Give <existing> the additional name <new>. An existing <new> is never
replaced. On failure the error kind (cross-device, already-exists,
permission-denied, unsupported) is printed.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 2, linkUsage); err != nil {
				return err
			}

			return execLink(o, a, args[0], args[1])
		},
	}
}

func execLink(o *IO, a *app, existing, newPath string) error {
	b, err := dbfile.SelectBackends(dbfile.HostCapabilities(), a.opts.Select)
	if err != nil {
		return err
	}

	if err := b.Link.Link(a.abs(existing), a.abs(newPath)); err != nil {
		var le *dbfile.LinkError
		if errors.As(err, &le) {
			o.ErrPrintln("kind:", le.Kind)
		}

		return err
	}

	o.Printf("linked %s -> %s\n", newPath, existing)

	return nil
}
