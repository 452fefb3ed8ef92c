// dbfile-shell is an interactive shell around a single dbfile handle.
// Running two shells on the same file shows how the lock backends interact.
//
// Usage:
//
//	dbfile-shell [opts] <file>
//
// Options:
//
//	--lock-strategy   auto, whole-file, byte-range, mandatory (default: auto)
//	--sync            auto, native, global-flush (default: auto)
//	--truncate        auto, native, seek-eof (default: auto)
//	-v, --verbose     Log backend decisions to stderr
//
// Commands (in REPL):
//
//	lock / rlock             Wait for an exclusive / shared lock
//	trylock / tryrlock       Try once for an exclusive / shared lock
//	unlock                   Release the lock
//	state                    Show this handle's lock state
//	write <offset> <text>    Write text at offset
//	read <offset> <n>        Read n bytes at offset
//	size                     Show file size
//	sync                     Force contents to stable storage
//	truncate                 Reset the file to zero length
//	link <new>               Hard link the file as <new>
//	caps                     Show host capabilities and backends
//	help                     Show this help
//	exit / quit / q          Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
	"github.com/calvinalkan/dbfile/pkg/lockwait"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("dbfile-shell", flag.ContinueOnError)
	lockName := fs.String("lock-strategy", "auto", "Lock backend")
	syncName := fs.String("sync", "auto", "Sync backend")
	truncName := fs.String("truncate", "auto", "Truncate backend")
	verbose := fs.BoolP("verbose", "v", false, "Log backend decisions to stderr")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dbfile-shell [opts] <file>")
		fs.PrintDefaults()

		return errors.New("missing file path")
	}

	sel, err := parseSelection(*lockName, *syncName, *truncName)
	if err != nil {
		return err
	}

	opts := dbfile.Options{Select: sel}
	if *verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	h, err := dbfile.Open(fs.Arg(0), os.O_RDWR|os.O_CREATE, 0o644, opts)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	r := &REPL{h: h, out: os.Stdout}

	return r.Run()
}

func parseSelection(lockName, syncName, truncName string) (dbfile.Selection, error) {
	lock, err := dbfile.ParseLockStrategy(lockName)
	if err != nil {
		return dbfile.Selection{}, err
	}

	sync, err := dbfile.ParseSyncStrategy(syncName)
	if err != nil {
		return dbfile.Selection{}, err
	}

	truncate, err := dbfile.ParseTruncateStrategy(truncName)
	if err != nil {
		return dbfile.Selection{}, err
	}

	return dbfile.Selection{Lock: lock, Sync: sync, Truncate: truncate}, nil
}

// REPL is the interactive command loop.
type REPL struct {
	h     *dbfile.Handle
	out   io.Writer
	liner *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".dbfile_shell_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	r.printf("dbfile-shell - %s (lock=%s, sync=%s, truncate=%s)\n",
		r.h.Path(), r.h.LockStrategy(), r.h.SyncStrategy(), r.h.TruncateStrategy())
	r.printf("Type 'help' for available commands.\n\n")

	for {
		line, err := r.liner.Prompt("dbfile> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.printf("\nBye!\n")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if quit := r.exec(line); quit {
			r.printf("Bye!\n")

			break
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

var commandNames = []string{
	"lock", "rlock", "trylock", "tryrlock", "unlock", "state",
	"write", "read", "size", "sync", "truncate", "link",
	"caps", "help", "exit", "quit", "q",
}

// completer provides tab completion for commands.
func completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commandNames {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// exec runs one command line. Returns true when the shell should exit.
func (r *REPL) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "lock":
		err = r.cmdLock(dbfile.Exclusive, true)
	case "rlock":
		err = r.cmdLock(dbfile.Shared, true)
	case "trylock":
		err = r.cmdLock(dbfile.Exclusive, false)
	case "tryrlock":
		err = r.cmdLock(dbfile.Shared, false)
	case "unlock":
		err = r.h.Unlock()
		if err == nil {
			r.printf("unlocked\n")
		}
	case "state":
		r.printf("%s\n", r.h.State())
	case "write":
		err = r.cmdWrite(args)
	case "read":
		err = r.cmdRead(args)
	case "size":
		err = r.cmdSize()
	case "sync":
		err = r.cmdSync()
	case "truncate":
		err = r.h.TruncateToEmpty()
		if err == nil {
			r.printf("truncated (%s)\n", r.h.TruncateStrategy())
		}
	case "link":
		err = r.cmdLink(args)
	case "caps":
		r.printf("host: %s\n", r.h.Capabilities())
		r.printf("lock=%s process_scoped=%t sync=%s truncate=%s\n",
			r.h.LockStrategy(), r.h.ProcessScopedLocks(), r.h.SyncStrategy(), r.h.TruncateStrategy())
	default:
		r.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		r.printf("Error (%s): %v\n", dbfile.Category(err).Message(), err)
	}

	return false
}

func (r *REPL) printHelp() {
	r.printf(`Commands:
  lock / rlock             Wait for an exclusive / shared lock
  trylock / tryrlock       Try once for an exclusive / shared lock
  unlock                   Release the lock
  state                    Show this handle's lock state
  write <offset> <text>    Write text at offset
  read <offset> <n>        Read n bytes at offset
  size                     Show file size
  sync                     Force contents to stable storage
  truncate                 Reset the file to zero length
  link <new>               Hard link the file as <new>
  caps                     Show host capabilities and backends
  help                     Show this help
  exit / quit / q          Exit
`)
}

func (r *REPL) cmdLock(mode dbfile.LockState, wait bool) error {
	var err error
	if wait {
		err = lockwait.Acquire(context.Background(), r.h, mode, lockwait.Options{})
	} else {
		err = r.h.TryLock(mode)
	}

	if err != nil {
		return err
	}

	r.printf("locked %s\n", mode)

	return nil
}

func (r *REPL) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <offset> <text>")
	}

	off, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", args[0], err)
	}

	text := strings.Join(args[1:], " ")

	n, err := r.h.WriteAt([]byte(text), off)
	if err != nil {
		return err
	}

	r.printf("wrote %d bytes at %d\n", n, off)

	return nil
}

func (r *REPL) cmdRead(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <offset> <n>")
	}

	off, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", args[0], err)
	}

	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return fmt.Errorf("invalid length %q", args[1])
	}

	buf := make([]byte, n)

	got, err := r.h.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	r.printf("%q\n", buf[:got])

	return nil
}

func (r *REPL) cmdSize() error {
	size, err := r.h.Size()
	if err != nil {
		return err
	}

	r.printf("%d bytes\n", size)

	return nil
}

func (r *REPL) cmdSync() error {
	strategy, err := r.h.ForceSync()
	if err != nil {
		return err
	}

	if strategy.Degraded() {
		r.printf("synced (%s, degraded)\n", strategy)

		return nil
	}

	r.printf("synced (%s)\n", strategy)

	return nil
}

func (r *REPL) cmdLink(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: link <new>")
	}

	if err := r.h.LinkTo(args[0]); err != nil {
		var le *dbfile.LinkError
		if errors.As(err, &le) {
			r.printf("kind: %s\n", le.Kind)
		}

		return err
	}

	r.printf("linked %s\n", args[0])

	return nil
}
