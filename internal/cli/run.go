// Package cli implements the mlib command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/musiclib/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal on it cancels the command's context, which stops
// long-running commands such as "drain --watch".
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	globals := flag.NewFlagSet("mlib", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	var (
		workDir  = globals.StringP("cwd", "C", "", "Run as if started in `dir`")
		cfgPath  = globals.StringP("config", "c", "", "Use specified config `file`")
		library  = globals.String("library", "", "Library DSV `file` (overrides config)")
		stateDir = globals.String("state-dir", "", "State `dir` for queue and sessions (overrides config)")
		help     = globals.BoolP("help", "h", false, "Show help")
	)

	a := &app{}
	cmds := commands(a)

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, cmds)

		return exitUser
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(out, globals, cmds)

		return exitOK
	}

	cmd := findCommand(cmds, rest[0])
	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		fprintln(errOut)
		printUsage(errOut, globals, cmds)

		return exitUser
	}

	o := NewIO(in, out, errOut)

	// Help never needs a config.
	if hasHelpFlag(rest[1:]) {
		return cmd.Run(ctx, o, rest[1:])
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:  *workDir,
		ConfigPath:       *cfgPath,
		LibraryOverride:  *library,
		StateDirOverride: *stateDir,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitCode(err)
	}

	a.init(cfg, errOut)

	code := cmd.Run(ctx, o, rest[1:])

	o.Finish()

	return code
}

func commands(a *app) []*Command {
	return []*Command{
		RateCmd(a),
		SetCmd(a),
		PlayedCmd(a),
		ImportCmd(a),
		DeleteCmd(a),
		DrainCmd(a),
		QueueCmd(a),
		SessionCmd(a),
		PrintConfigCmd(a),
	}
}

func findCommand(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}

		if arg == "-h" || arg == "--help" {
			return true
		}
	}

	return false
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	fprintln(w, `mlib - lock-coordinated music library database

Usage: mlib [global flags] <command> [args]

Global flags:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, "Exit codes: 0 ok, 1 usage or validation error, 2 system error, 3 deferred (queued).")
}

// needArgs returns ErrUsage unless args has between minArgs and maxArgs
// entries. maxArgs < 0 means no upper bound.
func needArgs(args []string, minArgs, maxArgs int, what string) error {
	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		return fmt.Errorf("%w: expected %s", ErrUsage, what)
	}

	return nil
}
