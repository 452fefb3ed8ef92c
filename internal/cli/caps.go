package cli

import (
	"context"
	"encoding/json"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

// CapsCmd returns the caps command.
func CapsCmd(a *app) *Command {
	fs := flag.NewFlagSet("caps", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print capabilities as JSON")

	return &Command{
		Flags: fs,
		Usage: "caps [--json]",
		Short: "Show host capabilities and selected backends",
		Long: `Show which file primitives this host offers and which backend each
concern resolves to under the current configuration.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := requireArgs(args, 0, "caps [--json]"); err != nil {
				return err
			}

			return execCaps(o, a, *asJSON)
		},
	}
}

type capsReport struct {
	Capabilities dbfile.Capabilities `json:"capabilities"`
	Lock         string              `json:"lock"`
	Sync         string              `json:"sync"`
	Truncate     string              `json:"truncate"`
	Degraded     bool                `json:"degraded"`
}

func execCaps(o *IO, a *app, asJSON bool) error {
	caps := dbfile.HostCapabilities()

	b, err := dbfile.SelectBackends(caps, a.opts.Select)
	if err != nil {
		return err
	}

	report := capsReport{
		Capabilities: caps,
		Lock:         b.Lock.Strategy().String(),
		Sync:         b.Sync.Strategy().String(),
		Truncate:     b.Truncate.Strategy().String(),
		Degraded:     b.Sync.Strategy().Degraded(),
	}

	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}

		o.Println(string(data))

		return nil
	}

	o.Printf("whole_file_lock=%t\n", caps.WholeFileLock)
	o.Printf("byte_range_lock=%t\n", caps.ByteRangeLock)
	o.Printf("mandatory_lock=%t\n", caps.MandatoryLock)
	o.Printf("native_sync=%t\n", caps.NativeSync)
	o.Printf("native_truncate=%t\n", caps.NativeTruncate)
	o.Printf("hard_link=%t\n", caps.HardLink)
	o.Println()
	o.Println("# selected")
	o.Println("lock=" + report.Lock)
	o.Println("sync=" + report.Sync)
	o.Println("truncate=" + report.Truncate)

	if report.Degraded {
		o.Warn("sync uses a global flush", "durability of a single file is not guaranteed on this host")
	}

	return nil
}
