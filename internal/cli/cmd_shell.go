package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/featstore/pkg/featstore"
)

var shellCommands = []string{"query", "has", "refs", "stats", "cache", "help", "exit", "quit"}

// lineReader is the input side of the shell.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// linerReader reads from the terminal with history and completion.
type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader(historyPath string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}

		return out
	})

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return &linerReader{state: state, historyPath: historyPath}
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	line, err := r.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	return line, err
}

func (r *linerReader) AppendHistory(line string) { r.state.AppendHistory(line) }

func (r *linerReader) Close() error {
	if r.historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o750); err == nil {
			if f, err := os.Create(r.historyPath); err == nil {
				_, _ = r.state.WriteHistory(f)
				_ = f.Close()
			}
		}
	}

	return r.state.Close()
}

// scanReader reads piped input line by line without prompting.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return r.scanner.Text(), nil
}

func (r *scanReader) AppendHistory(string) {}

func (r *scanReader) Close() error { return nil }

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell <file>",
		Short: "Interactive query shell",
		Long: `Open <file> and read commands interactively. Type 'help' for the list.
History is kept in $XDG_STATE_HOME/featstore/history (or ~/.local/state).
When stdin is not a terminal, commands are read line by line.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1); err != nil {
				return err
			}

			store, closeStore, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			var r lineReader

			if f, ok := o.Stdin().(*os.File); ok && f == os.Stdin {
				r = newLinerReader(historyPath(a.env))
			} else {
				r = &scanReader{scanner: bufio.NewScanner(o.Stdin())}
			}

			defer func() { _ = r.Close() }()

			sh := &shell{io: o, store: store}

			return sh.loop(ctx, r)
		},
	}
}

func historyPath(env map[string]string) string {
	if state := env["XDG_STATE_HOME"]; state != "" {
		return filepath.Join(state, "featstore", "history")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "state", "featstore", "history")
	}

	return ""
}

type shell struct {
	io    *IO
	store *featstore.Store
}

func (sh *shell) loop(ctx context.Context, r lineReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := r.Prompt("featstore> ")
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r.AppendHistory(line)

		fields := strings.Fields(line)

		switch cmd := strings.ToLower(fields[0]); cmd {
		case "exit", "quit":
			return nil
		case "help":
			sh.help()
		default:
			// Command errors are reported and the shell keeps going.
			if err := sh.exec(ctx, cmd, fields[1:]); err != nil {
				sh.io.Println("error:", err)
			}
		}
	}
}

func (sh *shell) help() {
	sh.io.Println("Commands:")
	sh.io.Println("  query <ref> <start> <end>   features overlapping the window")
	sh.io.Println("  query <ref>:<start>-<end>   same, as one locus")
	sh.io.Println("  has <ref>                   whether the reference exists")
	sh.io.Println("  refs                        references and lengths")
	sh.io.Println("  stats                       estimated feature density")
	sh.io.Println("  cache                       chunk cache counters")
	sh.io.Println("  exit                        leave the shell")
}

func (sh *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "query":
		q, err := parseQueryArgs(args)
		if err != nil {
			return err
		}

		features, err := sh.store.Collect(ctx, q)
		if err != nil {
			return err
		}

		sortFeatures(features)

		for i := range features {
			sh.io.Println(formatFeature(&features[i]))
		}

		sh.io.Printf("(%d features)\n", len(features))

	case "has":
		if len(args) != 1 {
			return fmt.Errorf("%w: has <ref>", errUsage)
		}

		ok, err := sh.store.HasReference(ctx, args[0])
		if err != nil {
			return err
		}

		sh.io.Println(ok)

	case "refs":
		refs, err := sh.store.References(ctx)
		if err != nil {
			return err
		}

		for _, ref := range refs {
			sh.io.Printf("%s\t%d\n", ref.Name, ref.Length)
		}

	case "stats":
		stats, err := sh.store.GlobalStats(ctx)
		if err != nil {
			return err
		}

		printStats(sh.io, stats)

	case "cache":
		cs := sh.store.CacheStats()
		sh.io.Printf("hits=%d misses=%d joins=%d fill_errors=%d evictions=%d entries=%d size=%d/%d\n",
			cs.Hits, cs.Misses, cs.Joins, cs.FillErrors, cs.Evictions, cs.Entries, cs.Size, cs.MaxSize)

	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}

	return nil
}
