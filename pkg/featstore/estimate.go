package featstore

import (
	"context"
	"errors"
	"time"

	"github.com/calvinalkan/featstore/pkg/feature"
)

const (
	sampleStartBases  = 100
	sampleMinFeatures = 300
)

// SamplingEstimator estimates feature density by querying a growing window
// in the middle of the longest reference. The window starts at 100 bases and
// doubles until it holds at least 300 features, covers the whole reference,
// or Timeout has elapsed.
//
// Sampling queries go through the chunk cache, so the chunks they decode
// are warm for the first user queries.
type SamplingEstimator struct {
	Store   *Store
	Timeout time.Duration
}

// Estimate runs the sampling loop. A sample that trips the chunk size limit
// ends sampling with the previous sample marked Saturated; any other query
// error is returned.
func (e *SamplingEstimator) Estimate(ctx context.Context) (Stats, error) {
	refs := e.Store.index.References()

	stats := Stats{References: len(refs)}

	longest, ok := longestReference(refs)
	if !ok {
		return stats, nil
	}

	stats.SampleRef = longest.Name

	started := time.Now()
	window := int64(sampleStartBases)

	for {
		start, end := sampleWindow(longest.Length, window)

		count := 0

		err := e.Store.queryPhysical(ctx, longest.ID, start, end, func(feature.Feature) { count++ })
		if errors.Is(err, ErrChunkOverflow) {
			stats.Saturated = true

			return stats, nil
		}

		if err != nil {
			return Stats{}, err
		}

		stats.FeatureCount = count
		stats.SampledBases = end - start + 1
		stats.FeatureDensity = float64(count) / float64(stats.SampledBases)

		if count >= sampleMinFeatures || window >= longest.Length {
			return stats, nil
		}

		if e.Timeout > 0 && time.Since(started) >= e.Timeout {
			return stats, nil
		}

		window *= 2
	}
}

func longestReference(refs []feature.Reference) (feature.Reference, bool) {
	var longest feature.Reference

	for _, ref := range refs {
		if ref.Length > longest.Length {
			longest = ref
		}
	}

	return longest, longest.Length > 0
}

// sampleWindow centers a window of the given width on the reference
// midpoint, clamped to [0, length-1].
func sampleWindow(length, width int64) (start, end int64) {
	if width >= length {
		return 0, length - 1
	}

	start = length/2 - width/2
	end = start + width - 1

	return start, end
}
