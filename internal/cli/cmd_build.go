package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/featstore/pkg/featfile"
)

// BuildCmd returns the build command.
func BuildCmd(a *app) *Command {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.StringP("output", "o", "", "Output feature `file` (default: input with .feat extension)")
	fs.Int("chunk-bytes", a.cfg.ChunkTargetBytes, "Raw record `bytes` per chunk")
	fs.Bool("no-compress", false, "Store chunk payloads uncompressed")
	fs.Duration("lock-timeout", featfile.DefaultLockTimeout, "Wait at most `duration` for a concurrent build")

	return &Command{
		Flags: fs,
		Usage: "build [flags] <input.bed>",
		Short: "Build a feature file and index from BED",
		Long: `Parse BED-like tab separated input (chrom, start, end, and optional name,
score, strand) and write a chunked feature file plus its SQLite index
("<output>.idx"). Use "-" to read from stdin; --output is then required.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execBuild(ctx, a, o, fs, args)
		},
	}
}

func execBuild(ctx context.Context, a *app, o *IO, fs *flag.FlagSet, args []string) error {
	if err := wantArgs(args, 1, 1); err != nil {
		return err
	}

	output, _ := fs.GetString("output")
	chunkBytes, _ := fs.GetInt("chunk-bytes")
	noCompress, _ := fs.GetBool("no-compress")
	lockTimeout, _ := fs.GetDuration("lock-timeout")

	input := a.path(args[0])

	if output == "" {
		if input == "-" {
			return fmt.Errorf("%w: --output is required when reading stdin", errUsage)
		}

		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".feat"
	}

	output = a.path(output)

	if chunkBytes <= 0 {
		return fmt.Errorf("%w: --chunk-bytes must be > 0", errUsage)
	}

	var r io.Reader = o.Stdin()

	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}

		defer func() { _ = f.Close() }()

		r = f
	}

	started := time.Now()

	res, err := featfile.BuildFromBED(ctx, output, featfile.IndexPath(output), r, featfile.BuildOptions{
		ChunkTargetBytes: chunkBytes,
		NoCompression:    noCompress,
		LockTimeout:      lockTimeout,
	})
	if err != nil {
		return err
	}

	a.logger.Info("build done", "output", output, "elapsed", time.Since(started))

	o.Printf("built %s: %d records, %d chunks, %d references\n", output, res.Records, res.Chunks, len(res.References))
	o.Printf("index %s\n", featfile.IndexPath(output))
	o.Printf("file_id %s\n", res.FileID)

	return nil
}
