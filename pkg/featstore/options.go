package featstore

import (
	"log/slog"
	"time"

	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/projection"
)

// Defaults applied by [New].
const (
	DefaultCacheCapacity  = 100_000          // decoded features
	DefaultChunkSizeLimit = 5_000_000        // bytes
	DefaultInitTimeout    = 30 * time.Second // index load
	DefaultStatsTimeout   = 3 * time.Second  // stats sampling budget
)

// Option configures a [Store].
type Option func(*options)

type options struct {
	cacheCapacity  int
	chunkSizeLimit int64
	initTimeout    time.Duration
	statsTimeout   time.Duration
	projector      *projection.Table
	regularize     func(string) string
	estimator      StatsEstimator
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		cacheCapacity:  DefaultCacheCapacity,
		chunkSizeLimit: DefaultChunkSizeLimit,
		initTimeout:    DefaultInitTimeout,
		statsTimeout:   DefaultStatsTimeout,
		regularize:     feature.RegularizeName,
		logger:         slog.New(slog.DiscardHandler),
	}
}

// WithCacheCapacity bounds the decoded-feature cache by record count.
func WithCacheCapacity(features int) Option {
	return func(o *options) { o.cacheCapacity = features }
}

// WithChunkSizeLimit sets the largest chunk, in bytes, a query may fetch.
// Zero or negative disables the check.
func WithChunkSizeLimit(bytes int64) Option {
	return func(o *options) { o.chunkSizeLimit = bytes }
}

// WithInitTimeout bounds how long loading the index may take.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) { o.initTimeout = d }
}

// WithStatsTimeout bounds the time the default estimator spends sampling.
func WithStatsTimeout(d time.Duration) Option {
	return func(o *options) { o.statsTimeout = d }
}

// WithProjector sets the composite sequence table used to project queries.
// Without it only inline sequence lists are projected.
func WithProjector(t *projection.Table) Option {
	return func(o *options) { o.projector = t }
}

// WithRegularizer replaces [feature.RegularizeName] for reference lookups.
// An identity function makes lookups exact.
func WithRegularizer(fn func(string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.regularize = fn
		}
	}
}

// WithStatsEstimator replaces the sampling estimator run after the index
// loads.
func WithStatsEstimator(e StatsEstimator) Option {
	return func(o *options) { o.estimator = e }
}

// WithLogger sets the structured logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
