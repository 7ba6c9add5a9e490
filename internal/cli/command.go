package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "mlib" in help.
	// Includes the command name and arguments/flags.
	// Examples: "rate <path> [stars]", "drain [flags]"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "mlib <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: mlib", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	err := c.execute(ctx, o, args)
	if err == nil {
		return exitOK
	}

	code := ExitCode(err)

	switch {
	case errors.Is(err, errUsageShown):
	case code == exitDeferred:
	default:
		o.ErrPrintln("error:", err)
	}

	return code
}

// errUsageShown marks a flag error whose message and help were already printed.
var errUsageShown = fmt.Errorf("%w: invalid flags", ErrUsage)

// execute parses flags, handling --help, and calls Exec.
func (c *Command) execute(ctx context.Context, o *IO, args []string) error {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return nil
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.printHelpErr(o)

		return errUsageShown
	}

	return c.Exec(ctx, o, c.Flags.Args())
}

func (c *Command) printHelpErr(o *IO) {
	o.ErrPrintln("Usage: mlib", c.Usage)

	if c.Flags.HasFlags() {
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.ErrPrintln("Flags:")
		o.ErrPrintf("%s", buf.String())
	}
}

// group dispatches to subcommands: "session open", "session retry", ...
func group(usage, short string, subs ...*Command) *Command {
	fs := flag.NewFlagSet(usage, flag.ContinueOnError)
	fs.SetInterspersed(false)

	c := &Command{Flags: fs, Usage: usage, Short: short}

	var long strings.Builder

	long.WriteString(short)
	long.WriteString("\n\nSubcommands:\n")

	for _, sub := range subs {
		long.WriteString(sub.HelpLine())
		long.WriteString("\n")
	}

	c.Long = strings.TrimSuffix(long.String(), "\n")

	c.Exec = func(ctx context.Context, o *IO, args []string) error {
		if len(args) == 0 {
			c.PrintHelp(o)

			return fmt.Errorf("%w: %s requires a subcommand", ErrUsage, c.Name())
		}

		for _, sub := range subs {
			if sub.Name() == args[0] {
				return sub.execute(ctx, o, args[1:])
			}
		}

		return fmt.Errorf("%w: unknown %s subcommand: %s", ErrUsage, c.Name(), args[0])
	}

	return c
}
