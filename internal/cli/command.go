package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// errUsage marks argument errors; Run prints the command help after them.
var errUsage = errors.New("usage")

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "featstore" in help.
	// Includes the command name and arguments/flags.
	// Examples: "query [flags] <file> <ref> <start> <end>", "refs <file>"
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
	return fmt.Sprintf("  %-42s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "featstore <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: featstore", c.Usage)
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
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.printHelpErr(o)

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		if errors.Is(err, errUsage) {
			o.ErrPrintln()
			c.printHelpErr(o)
		}

		return 1
	}

	return 0
}

// printHelpErr prints the command help to stderr.
func (c *Command) printHelpErr(o *IO) {
	c.PrintHelp(o.Stderr())
}

// wantArgs returns an errUsage error unless args has between lo and hi
// entries.
func wantArgs(args []string, lo, hi int) error {
	switch {
	case len(args) < lo:
		return fmt.Errorf("%w: expected at least %d arguments, got %d", errUsage, lo, len(args))
	case len(args) > hi:
		return fmt.Errorf("%w: expected at most %d arguments, got %d", errUsage, hi, len(args))
	default:
		return nil
	}
}
