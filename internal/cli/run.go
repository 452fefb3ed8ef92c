// Package cli implements dbfilectl, a command line front end for pkg/dbfile.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/dbfile/internal/config"
	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

var (
	errFlagRequiresArg = errors.New("flag requires an argument")
	errUnknownFlag     = errors.New("unknown flag")
	errUsage           = errors.New("wrong number of arguments")
)

const (
	minArgs      = 2
	consumedOne  = 1
	consumedTwo  = 2
	consumedNone = 0
	helpFlag     = "--help"
)

// app is the state shared by every command of one invocation.
type app struct {
	cfg    config.Config
	opts   dbfile.Options
	policy dbfile.ExistingPolicy
	logger *slog.Logger
	in     io.Reader
	sigCh  <-chan os.Signal
}

// abs resolves path against the effective working directory.
func (a *app) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(a.cfg.EffectiveCwd, path)
}

func commands(a *app) []*Command {
	return []*Command{
		CapsCmd(a),
		LockCmd(a),
		SyncCmd(a),
		TruncateCmd(a),
		LinkCmd(a),
		ReplaceCmd(a),
		PrintConfigCmd(a),
	}
}

// Run is the main entry point. Returns exit code.
// sigCh, when non-nil, cancels waiting commands on the first signal.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < minArgs {
		printUsage(out)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut)

		return 1
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == helpFlag || flags.remaining[0] == "-h" {
		printUsage(out)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		Overrides:       flags.overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a, err := newApp(cfg, in, errOut, sigCh)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	name := flags.remaining[0]

	for _, cmd := range commands(a) {
		if cmd.Name() != name {
			continue
		}

		ctx, cancel := signalContext(sigCh)
		defer cancel()

		return cmd.Run(ctx, NewIO(out, errOut), flags.remaining[1:])
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut)

	return 1
}

func newApp(cfg config.Config, in io.Reader, errOut io.Writer, sigCh <-chan os.Signal) (*app, error) {
	sel, err := cfg.Selection()
	if err != nil {
		return nil, err
	}

	policy, err := cfg.ExistingPolicy()
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Logger(errOut)
	if err != nil {
		return nil, err
	}

	if in == nil {
		in = strings.NewReader("")
	}

	return &app{
		cfg:    cfg,
		opts:   dbfile.Options{Select: sel, Logger: logger},
		policy: policy,
		logger: logger,
		in:     in,
		sigCh:  sigCh,
	}, nil
}

// signalContext returns a context cancelled when sigCh delivers.
func signalContext(sigCh <-chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if sigCh == nil {
		return ctx, cancel
	}

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

type globalFlags struct {
	workDir    string
	configPath string
	overrides  config.Config
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// valueFlags are the long flags that map straight onto config overrides.
func valueFlags(flags *globalFlags) map[string]*string {
	return map[string]*string{
		"--lock-strategy": &flags.overrides.LockStrategy,
		"--sync":          &flags.overrides.Sync,
		"--truncate":      &flags.overrides.Truncate,
		"--lock-timeout":  &flags.overrides.LockTimeout,
		"--log-level":     &flags.overrides.LogLevel,
		"--log-format":    &flags.overrides.LogFormat,
	}
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	// -C/--cwd flag (work directory)
	if (arg == "-C" || arg == "--cwd") && idx+1 < len(args) {
		flags.workDir = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "-C"); ok && after != "" {
		flags.workDir = after

		return consumedOne, nil
	}

	if after, ok := strings.CutPrefix(arg, "--cwd="); ok {
		flags.workDir = after

		return consumedOne, nil
	}

	// -c/--config flag
	if arg == "-c" || arg == "--config" {
		if idx+1 >= len(args) {
			return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		flags.configPath = args[idx+1]

		return consumedTwo, nil
	}

	if after, ok := strings.CutPrefix(arg, "--config="); ok {
		flags.configPath = after

		return consumedOne, nil
	}

	name, value, hasValue := strings.Cut(arg, "=")
	if dst, ok := valueFlags(flags)[name]; ok {
		if hasValue {
			*dst = value

			return consumedOne, nil
		}

		if idx+1 >= len(args) {
			return consumedNone, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		*dst = args[idx+1]

		return consumedTwo, nil
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	// Not a flag
	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `dbfilectl - inspect and exercise database file primitives

Usage: dbfilectl [global flags] <command> [args]

Global flags:
  -C, --cwd <dir>           Run as if started in <dir>
  -c, --config <file>       Use specified config file
  --lock-strategy <name>    auto, whole-file, byte-range, mandatory
  --sync <name>             auto, native, global-flush
  --truncate <name>         auto, native, seek-eof
  --lock-timeout <dur>      How long lock waits (0 waits until interrupted)
  --log-level <level>       debug, info, warn, error
  --log-format <format>     text, json
  -h, --help                Show this help

Commands:`)

	for _, cmd := range commands(&app{}) {
		fprintln(w, cmd.HelpLine())
	}
}

// requireArgs fails with errUsage unless exactly n args were given.
func requireArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("%w: usage: dbfilectl %s", errUsage, usage)
	}

	return nil
}
