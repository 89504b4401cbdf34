package cli

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/feature"
)

// QueryCmd returns the query command.
func QueryCmd(a *app) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.Int("limit", 0, "Print at most `n` features (0 = all)")
	fs.Bool("json", false, "Print one JSON object per feature")

	return &Command{
		Flags: fs,
		Usage: "query [flags] <file> <ref> <start> <end>",
		Short: "Print features overlapping a window",
		Long: `Print the features of <file> overlapping [start, end] on <ref>, sorted by
start. The window may also be given as one "<ref>:<start>-<end>" argument.
Reference names are regularized ("1", "Chr1" and "chr1" match) unless
exact_reference_names is set. Composite names from the config are queried in
their own coordinates.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execQuery(ctx, a, o, fs, args)
		},
	}
}

func execQuery(ctx context.Context, a *app, o *IO, fs *flag.FlagSet, args []string) error {
	if err := wantArgs(args, 2, 4); err != nil {
		return err
	}

	limit, _ := fs.GetInt("limit")
	asJSON, _ := fs.GetBool("json")

	q, err := parseQueryArgs(args[1:])
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(args[0])
	if err != nil {
		return err
	}
	defer closeStore()

	features, err := store.Collect(ctx, q)
	if err != nil {
		return err
	}

	if len(features) == 0 {
		known, err := a.knownReference(ctx, store, q.Ref)
		if err != nil {
			return err
		}

		if !known {
			o.Warn("unknown reference "+strconv.Quote(q.Ref), "run 'featstore refs "+args[0]+"' to list references")

			return nil
		}
	}

	sortFeatures(features)

	if limit > 0 && len(features) > limit {
		features = features[:limit]
	}

	if asJSON {
		enc := json.NewEncoder(o.Stdout())

		for i := range features {
			if err := enc.Encode(&features[i]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}

		return nil
	}

	for i := range features {
		o.Println(formatFeature(&features[i]))
	}

	return nil
}

func sortFeatures(features []feature.Feature) {
	slices.SortStableFunc(features, func(x, y feature.Feature) int {
		return cmp.Or(cmp.Compare(x.Start, y.Start), cmp.Compare(x.End, y.End))
	})
}

// formatFeature renders f as a BED6 line, with the physical window appended
// for projected features.
func formatFeature(f *feature.Feature) string {
	name := f.Name
	if name == "" {
		name = "."
	}

	line := fmt.Sprintf("%s\t%d\t%d\t%s\t%s\t%s",
		f.Ref, f.Start, f.End, name, strconv.FormatFloat(float64(f.Score), 'g', -1, 32), f.Strand)

	if f.Projected {
		line += fmt.Sprintf("\t%d\t%d", f.OriginalStart, f.OriginalEnd)
	}

	return line
}

// HasCmd returns the has command.
func HasCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <file> <ref>",
		Short: "Report whether a reference exists",
		Long:  "Print true or false depending on whether <file> holds <ref> after name regularization.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 2, 2); err != nil {
				return err
			}

			store, closeStore, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			ok, err := store.HasReference(ctx, args[1])
			if err != nil {
				return err
			}

			o.Println(strconv.FormatBool(ok))

			return nil
		},
	}
}

// RefsCmd returns the refs command.
func RefsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("refs", flag.ContinueOnError),
		Usage: "refs <file>",
		Short: "List references and their lengths",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1); err != nil {
				return err
			}

			store, closeStore, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			refs, err := store.References(ctx)
			if err != nil {
				return err
			}

			for _, ref := range refs {
				o.Printf("%s\t%d\n", ref.Name, ref.Length)
			}

			return nil
		},
	}
}

// StatsCmd returns the stats command.
func StatsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats <file>",
		Short: "Print estimated feature density",
		Long: `Sample the longest reference around its midpoint and print the estimated
feature density. Sampling stops at 300 features, at the reference length, or
after stats_timeout.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := wantArgs(args, 1, 1); err != nil {
				return err
			}

			store, closeStore, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := store.GlobalStats(ctx)
			if err != nil {
				return err
			}

			printStats(o, stats)

			return nil
		},
	}
}

func printStats(o *IO, stats featstore.Stats) {
	o.Printf("references=%d\n", stats.References)
	o.Printf("sample_ref=%s\n", stats.SampleRef)
	o.Printf("sampled_bases=%d\n", stats.SampledBases)
	o.Printf("feature_count=%d\n", stats.FeatureCount)
	o.Printf("feature_density=%s\n", strconv.FormatFloat(stats.FeatureDensity, 'g', 6, 64))
	o.Printf("saturated=%t\n", stats.Saturated)
}
