package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/featstore/pkg/featfile"
	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/projection"
)

var errLocus = errors.New("invalid locus")

// openStore opens the feature file at dataPath with its conventional index
// and wraps it in a store configured from a.cfg. The returned close func
// releases both.
func (a *app) openStore(dataPath string) (*featstore.Store, func(), error) {
	dataPath = a.path(dataPath)

	file := featfile.Open(dataPath, featfile.IndexPath(dataPath), featfile.WithRegularizer(a.cfg.Regularizer()))

	opts, err := a.cfg.StoreOptions(a.logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := featstore.New(file, file, opts...)
	if err != nil {
		_ = file.Close()

		return nil, nil, err
	}

	closeFn := func() {
		_ = store.Close()
		_ = file.Close()
	}

	return store, closeFn, nil
}

// isComposite reports whether ref names a configured composite or is an
// inline sequence list.
func (a *app) isComposite(ref string) bool {
	for _, c := range a.cfg.Composites {
		if c.Name == ref {
			return true
		}
	}

	_, inline := projection.ParseSequenceList(ref)

	return inline
}

// knownReference reports whether a query on ref can ever match.
func (a *app) knownReference(ctx context.Context, store *featstore.Store, ref string) (bool, error) {
	if a.isComposite(ref) {
		return true, nil
	}

	return store.HasReference(ctx, ref)
}

// parseQueryArgs accepts either "<ref> <start> <end>" or a single
// "<ref>:<start>-<end>" locus. Thousands separators are allowed.
func parseQueryArgs(args []string) (featstore.Query, error) {
	switch len(args) {
	case 1:
		return parseLocus(args[0])
	case 3:
		start, err := parseCoord(args[1])
		if err != nil {
			return featstore.Query{}, fmt.Errorf("%w: start %q", errLocus, args[1])
		}

		end, err := parseCoord(args[2])
		if err != nil {
			return featstore.Query{}, fmt.Errorf("%w: end %q", errLocus, args[2])
		}

		return featstore.Query{Ref: args[0], Start: start, End: end}, nil
	default:
		return featstore.Query{}, fmt.Errorf("%w: want <ref> <start> <end> or <ref>:<start>-<end>", errUsage)
	}
}

func parseLocus(s string) (featstore.Query, error) {
	colon := strings.LastIndexByte(s, ':')
	if colon <= 0 {
		return featstore.Query{}, fmt.Errorf("%w: %q", errLocus, s)
	}

	ref, span := s[:colon], s[colon+1:]

	startText, endText, ok := strings.Cut(span, "-")
	if !ok {
		return featstore.Query{}, fmt.Errorf("%w: %q", errLocus, s)
	}

	start, err := parseCoord(startText)
	if err != nil {
		return featstore.Query{}, fmt.Errorf("%w: %q", errLocus, s)
	}

	end, err := parseCoord(endText)
	if err != nil {
		return featstore.Query{}, fmt.Errorf("%w: %q", errLocus, s)
	}

	return featstore.Query{Ref: ref, Start: start, End: end}, nil
}

func parseCoord(s string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
}
