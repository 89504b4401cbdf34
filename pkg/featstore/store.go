// Package featstore answers range queries against an indexed feature file.
//
// A [Store] sits between callers and two collaborators: an [Index] that maps
// (reference, window) to candidate chunks, and a [ChunkReader] that fetches
// and decodes one chunk. Decoded chunks are held in a record-count bounded
// LRU cache with one fill per chunk in flight. Queries on composite
// sequences are projected onto physical references first.
//
// Initialization runs in the background when the store is created: the
// index loads, feature queries are released, summary statistics are
// estimated, and statistics queries are released. If any stage fails, every
// pending and future call returns the same [ErrInitialization] error.
package featstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/featstore/pkg/chunkcache"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/projection"
	"github.com/calvinalkan/featstore/pkg/readiness"
)

// Index is the block index collaborator.
type Index interface {
	// Load opens and validates the index. It is called once, from the
	// store's initialization goroutine.
	Load(ctx context.Context) error

	// RefID maps a regularized reference name to its id.
	RefID(canonical string) (int, bool)

	// References lists the references known to the index. Only called
	// after Load succeeded.
	References() []feature.Reference

	// ResolveChunks returns the chunks that may hold features on refID
	// overlapping [start, end], ordered by file offset.
	ResolveChunks(ctx context.Context, refID int, start, end int64) ([]feature.Chunk, error)
}

// ChunkReader fetches and decodes one chunk. Returned features must be in
// non-decreasing start order per reference; the range filter stops scanning
// at the first feature past the query window and does not re-sort.
type ChunkReader interface {
	ReadChunk(ctx context.Context, id feature.ChunkID) ([]feature.Feature, error)
}

// StatsEstimator produces summary statistics once the index has loaded.
type StatsEstimator interface {
	Estimate(ctx context.Context) (Stats, error)
}

// StatsEstimatorFunc adapts a function to [StatsEstimator].
type StatsEstimatorFunc func(ctx context.Context) (Stats, error)

// Estimate calls f.
func (f StatsEstimatorFunc) Estimate(ctx context.Context) (Stats, error) { return f(ctx) }

// Stats summarizes the feature file.
type Stats struct {
	// FeatureDensity is features per base over the sampled window.
	FeatureDensity float64 `json:"feature_density"`
	FeatureCount   int     `json:"feature_count"`
	SampledBases   int64   `json:"sampled_bases"`
	SampleRef      string  `json:"sample_ref,omitempty"`
	References     int     `json:"references"`
	// Saturated is set when sampling stopped at the chunk size limit.
	Saturated bool `json:"saturated,omitempty"`
}

// Query is a contiguous range query. Ref may name a physical reference, a
// registered composite, or an inline sequence list. The window is closed:
// features overlapping any position in [Start, End] match.
type Query struct {
	Ref   string
	Start int64
	End   int64
}

// Store executes range queries. Create it with [New] and release it with
// [Store.Close].
type Store struct {
	index  Index
	reader ChunkReader
	opts   options
	logger *slog.Logger

	gate  *readiness.Gate
	cache *chunkcache.Cache[feature.ChunkID, []feature.Feature]

	// Written by the init goroutine before the matching gate transition.
	refNames    map[int]string
	globalStats Stats

	closed     atomic.Bool
	cancelInit context.CancelFunc
	initDone   chan struct{}

	counters counters
}

type counters struct {
	queriesOK       atomic.Uint64
	queriesFailed   atomic.Uint64
	queriesOverflow atomic.Uint64
	queriesUnknown  atomic.Uint64
	overflows       atomic.Uint64
	chunksFetched   atomic.Uint64
	featuresOut     atomic.Uint64
}

// New creates a store and starts its initialization in the background.
func New(index Index, reader ChunkReader, opts ...Option) (*Store, error) {
	if index == nil {
		return nil, errors.New("featstore: index is nil")
	}

	if reader == nil {
		return nil, errors.New("featstore: chunk reader is nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.initTimeout <= 0 {
		return nil, fmt.Errorf("featstore: init timeout must be > 0, got %s", o.initTimeout)
	}

	cache, err := chunkcache.New(chunkcache.Options[feature.ChunkID, []feature.Feature]{
		Fill:    reader.ReadChunk,
		Size:    func(features []feature.Feature) int { return len(features) },
		MaxSize: o.cacheCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("featstore: %w", err)
	}

	s := &Store{
		index:    index,
		reader:   reader,
		opts:     o,
		logger:   o.logger,
		gate:     readiness.New(),
		cache:    cache,
		initDone: make(chan struct{}),
	}

	if s.opts.estimator == nil {
		s.opts.estimator = &SamplingEstimator{Store: s, Timeout: o.statsTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelInit = cancel

	go s.initialize(ctx)

	return s, nil
}

func (s *Store) initialize(ctx context.Context) {
	defer close(s.initDone)

	started := time.Now()

	loadCtx, cancel := context.WithTimeout(ctx, s.opts.initTimeout)
	err := s.index.Load(loadCtx)

	cancel()

	if err != nil {
		s.fail("index", err)

		return
	}

	refs := s.index.References()

	s.refNames = make(map[int]string, len(refs))
	for _, ref := range refs {
		s.refNames[ref.ID] = ref.Name
	}

	s.gate.FeaturesReady()
	s.logger.Info("feature index loaded", "references", len(refs), "elapsed", time.Since(started))

	stats, err := s.opts.estimator.Estimate(ctx)
	if err != nil {
		s.fail("stats", err)

		return
	}

	s.globalStats = stats
	s.gate.StatsReady()
	s.logger.Info("feature stats ready",
		"feature_density", stats.FeatureDensity,
		"feature_count", stats.FeatureCount,
		"saturated", stats.Saturated,
	)
}

func (s *Store) fail(stage string, err error) {
	initErr := &InitError{Stage: stage, Err: err}
	if s.gate.Fail(initErr) {
		s.logger.Error("feature store initialization failed", "stage", stage, "error", err)
	}
}

// QueryFeatures streams every feature overlapping q to onFeature and
// returns nil when all selected chunks have been delivered, or the first
// error. It blocks until the index is loaded.
//
// A reference the index does not know yields no features and no error.
// Features of composite queries are delivered as projected copies: Start and
// End in logical coordinates, OriginalStart and OriginalEnd physical.
//
// onFeature is never called concurrently and never after QueryFeatures
// returns.
func (s *Store) QueryFeatures(ctx context.Context, q Query, onFeature func(feature.Feature)) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if q.End < q.Start {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidQuery, q.End, q.Start)
	}

	phys := s.opts.projector.Project(projection.Location{Ref: q.Ref, Start: q.Start, End: q.End})

	if err := s.gate.Wait(ctx, readiness.TierFeatures); err != nil {
		s.counters.queriesFailed.Add(1)

		return err
	}

	refID, ok := s.index.RefID(s.opts.regularize(phys.Ref))
	if !ok {
		s.counters.queriesUnknown.Add(1)
		s.logger.Debug("query on unknown reference", "ref", phys.Ref)

		return nil
	}

	deliver := s.deliverer(q, phys, s.opts.projector.IsComposite(q.Ref), refID, onFeature)

	started := time.Now()
	delivered := 0

	err := s.queryPhysical(ctx, refID, phys.Start, phys.End, func(f feature.Feature) {
		delivered++

		deliver(f)
	})

	s.counters.featuresOut.Add(uint64(delivered))

	switch {
	case err == nil:
		s.counters.queriesOK.Add(1)
	case errors.Is(err, ErrChunkOverflow):
		s.counters.queriesOverflow.Add(1)
		s.logger.Warn("query exceeded chunk size limit", "ref", phys.Ref, "start", phys.Start, "end", phys.End, "error", err)
	default:
		s.counters.queriesFailed.Add(1)
		s.logger.Warn("query failed", "ref", phys.Ref, "start", phys.Start, "end", phys.End, "error", err)
	}

	s.logger.Debug("query done",
		"ref", q.Ref, "phys_ref", phys.Ref, "start", phys.Start, "end", phys.End,
		"features", delivered, "elapsed", time.Since(started), "error", err,
	)

	return err
}

// deliverer returns the onFeature wrapper that names features and, for
// composite queries, rewrites them into logical coordinates. A composite may
// share its name with the reference backing it, so the decision is made on
// the query name, not on whether projection changed the reference.
func (s *Store) deliverer(
	q Query, phys projection.Location, composite bool, refID int, onFeature func(feature.Feature),
) func(feature.Feature) {
	refName := s.refNames[refID]

	if !composite {
		return func(f feature.Feature) {
			f.Ref = refName
			onFeature(f)
		}
	}

	delta := q.Start - phys.Start

	return func(f feature.Feature) {
		if !f.Projected {
			f.Projected = true
			f.OriginalStart, f.OriginalEnd = f.Start, f.End
			f.Start += delta
			f.End += delta
		}

		f.Ref = q.Ref
		onFeature(f)
	}
}

// queryPhysical runs an index lookup plus chunk fetch on physical
// coordinates, without waiting on the readiness gate.
func (s *Store) queryPhysical(ctx context.Context, refID int, start, end int64, onFeature func(feature.Feature)) error {
	chunks, err := s.index.ResolveChunks(ctx, refID, start, end)
	if err != nil {
		return fmt.Errorf("resolve chunks: %w", err)
	}

	return s.fetchChunks(ctx, chunks, refID, start, end, onFeature)
}

// Collect runs [Store.QueryFeatures] and returns the features in delivery
// order.
func (s *Store) Collect(ctx context.Context, q Query) ([]feature.Feature, error) {
	features := make([]feature.Feature, 0)

	err := s.QueryFeatures(ctx, q, func(f feature.Feature) {
		features = append(features, f)
	})
	if err != nil {
		return nil, err
	}

	return features, nil
}

// HasReference reports whether the index holds a reference with the given
// name after regularization. It blocks until statistics are ready.
func (s *Store) HasReference(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	canonical := s.opts.regularize(name)

	if err := s.gate.Wait(ctx, readiness.TierStats); err != nil {
		return false, err
	}

	_, ok := s.index.RefID(canonical)

	return ok, nil
}

// GlobalStats returns the estimated summary statistics. It blocks until
// they are available.
func (s *Store) GlobalStats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}

	if err := s.gate.Wait(ctx, readiness.TierStats); err != nil {
		return Stats{}, err
	}

	return s.globalStats, nil
}

// References lists the references of the loaded index.
func (s *Store) References(ctx context.Context) ([]feature.Reference, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err := s.gate.Wait(ctx, readiness.TierFeatures); err != nil {
		return nil, err
	}

	return s.index.References(), nil
}

// Ready blocks until feature queries can run, or returns the
// initialization failure.
func (s *Store) Ready(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.gate.Wait(ctx, readiness.TierFeatures)
}

// State returns the initialization state.
func (s *Store) State() readiness.State {
	return s.gate.State()
}

// CacheStats returns a snapshot of the decoded-chunk cache counters.
func (s *Store) CacheStats() chunkcache.Stats {
	return s.cache.Stats()
}

// Close stops initialization if it is still running and drops cached
// chunks. Callers still waiting on initialization get [ErrClosed]. The index
// and reader are not closed; they belong to the caller.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Fail before cancelling so the cancelled stage cannot latch first.
	s.gate.Fail(ErrClosed)

	s.cancelInit()
	<-s.initDone

	s.cache.Purge()

	return nil
}
