// Package cli implements the featstore command line.
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

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/featstore/internal/config"
)

// ErrUnknownCommand is returned for a command name Run does not know.
var ErrUnknownCommand = errors.New("unknown command")

// app is the state shared by all commands of one invocation.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	env    map[string]string
}

// path resolves p against the effective working directory.
func (a *app) path(p string) string {
	if p == "" || p == "-" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(a.cfg.EffectiveCwd, p)
}

func (a *app) commands() []*Command {
	return []*Command{
		BuildCmd(a),
		QueryCmd(a),
		HasCmd(a),
		RefsCmd(a),
		StatsCmd(a),
		ServeCmd(a),
		ShellCmd(a),
		PrintConfigCmd(&a.cfg),
	}
}

type globalFlags struct {
	set        *flag.FlagSet
	workDir    string
	configPath string
	logLevel   string
	help       bool
}

func newGlobalFlags() *globalFlags {
	g := &globalFlags{set: flag.NewFlagSet("featstore", flag.ContinueOnError)}

	g.set.SetInterspersed(false)
	g.set.SetOutput(io.Discard)
	g.set.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	g.set.StringVarP(&g.configPath, "config", "c", "", "Use specified config `file`")
	g.set.StringVar(&g.logLevel, "log-level", "", "Log `level`: debug, info, warn, error")
	g.set.BoolVarP(&g.help, "help", "h", false, "Show help")

	return g
}

// Run is the main entry point. Returns exit code. The first value received
// on sigCh cancels the command's context; sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	global := newGlobalFlags()

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	if err := global.set.Parse(rest); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, global, nil)

		return 1
	}

	remaining := global.set.Args()

	if global.help || len(remaining) == 0 {
		printUsage(out, global, (&app{}).commands())

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: global.workDir,
		ConfigPath:      global.configPath,
		Env:             env,
		Overrides:       config.Overrides{LogLevel: global.logLevel},
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level, _ := config.ParseLevel(cfg.LogLevel) // validated by Load

	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
		env:    env,
	}

	commands := a.commands()

	var cmd *Command

	for _, c := range commands {
		if c.Name() == remaining[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, remaining[0]))
		printUsage(errOut, global, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				a.logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(in, out, errOut)

	if code := cmd.Run(ctx, o, remaining[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, global *globalFlags, commands []*Command) {
	fprintln(w, "featstore - indexed feature range queries")
	fprintln(w)
	fprintln(w, "Usage: featstore [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder

	global.set.SetOutput(&buf)
	global.set.PrintDefaults()
	global.set.SetOutput(io.Discard)

	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
