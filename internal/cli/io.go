package cli

import (
	"fmt"
	"io"
)

// warning is a problem a command noticed but did not fail on.
type warning struct {
	issue  string
	action string
}

func (w warning) String() string { return w.issue + ": " + w.action }

// IO is the output of one dbfilectl command.
//
// Degraded durability is the usual source of warnings. They go to stderr
// ahead of the first stdout line and are repeated when the command finishes,
// so a caller piping through head or tail still sees one copy.
type IO struct {
	out    io.Writer
	errOut io.Writer

	warnings []warning
	// warned records that the leading copy of the warnings was written.
	warned bool
}

// NewIO returns an IO writing results to out and diagnostics to errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records issue and the action the operator should take. The command
// still succeeds, but [IO.Finish] reports exit code 1.
func (o *IO) Warn(issue, action string) {
	o.warnings = append(o.warnings, warning{issue: issue, action: action})
}

// Println writes a result line to stdout.
func (o *IO) Println(a ...any) {
	o.leadWarnings()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted results to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.leadWarnings()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes a diagnostic line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish writes the trailing copy of the warnings and returns the exit code:
// 1 when anything was warned about, else 0.
func (o *IO) Finish() int {
	if len(o.warnings) == 0 {
		return 0
	}

	o.leadWarnings()
	o.writeWarnings()

	return 1
}

func (o *IO) leadWarnings() {
	if o.warned || len(o.warnings) == 0 {
		return
	}

	o.warned = true
	o.writeWarnings()
}

func (o *IO) writeWarnings() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
