package featstore_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/projection"
	"github.com/calvinalkan/featstore/pkg/readiness"
)

var (
	chunkA = feature.ChunkID{Offset: 64, Length: 100}
	chunkB = feature.ChunkID{Offset: 164, Length: 100}
)

type fakeIndex struct {
	loadErr    error
	loadGate   chan struct{}
	refs       []feature.Reference
	chunks     map[int][]feature.Chunk
	resolveErr error
}

func (ix *fakeIndex) Load(ctx context.Context) error {
	if ix.loadGate != nil {
		select {
		case <-ix.loadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ix.loadErr
}

func (ix *fakeIndex) RefID(canonical string) (int, bool) {
	for _, ref := range ix.refs {
		if feature.RegularizeName(ref.Name) == canonical {
			return ref.ID, true
		}
	}

	return 0, false
}

func (ix *fakeIndex) References() []feature.Reference { return ix.refs }

func (ix *fakeIndex) ResolveChunks(_ context.Context, refID int, _, _ int64) ([]feature.Chunk, error) {
	if ix.resolveErr != nil {
		return nil, ix.resolveErr
	}

	return ix.chunks[refID], nil
}

type fakeReader struct {
	mu       sync.Mutex
	data     map[feature.ChunkID][]feature.Feature
	failures map[feature.ChunkID]int // remaining failures per chunk
	gates    map[feature.ChunkID]chan struct{}
	calls    map[feature.ChunkID]int
}

func newFakeReader(data map[feature.ChunkID][]feature.Feature) *fakeReader {
	return &fakeReader{
		data:     data,
		failures: map[feature.ChunkID]int{},
		gates:    map[feature.ChunkID]chan struct{}{},
		calls:    map[feature.ChunkID]int{},
	}
}

func (r *fakeReader) ReadChunk(ctx context.Context, id feature.ChunkID) ([]feature.Feature, error) {
	r.mu.Lock()
	r.calls[id]++
	gate := r.gates[id]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures[id] > 0 {
		r.failures[id]--

		return nil, errors.New("checksum mismatch")
	}

	return r.data[id], nil
}

func (r *fakeReader) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, n := range r.calls {
		total += n
	}

	return total
}

func feat(refID int, start, end int64) feature.Feature {
	return feature.Feature{RefID: refID, Start: start, End: end}
}

// twoChunkFixture is the canonical fixture: chunk A holds (10,20) and
// (50,60), chunk B holds (15,25), all on chr1.
func twoChunkFixture() (*fakeIndex, *fakeReader) {
	ix := &fakeIndex{
		refs: []feature.Reference{{ID: 1, Name: "chr1", Length: 1000}},
		chunks: map[int][]feature.Chunk{
			1: {{ID: chunkA, Size: 100}, {ID: chunkB, Size: 100}},
		},
	}

	rd := newFakeReader(map[feature.ChunkID][]feature.Feature{
		chunkA: {feat(1, 10, 20), feat(1, 50, 60)},
		chunkB: {feat(1, 15, 25)},
	})

	return ix, rd
}

var noStats = featstore.WithStatsEstimator(featstore.StatsEstimatorFunc(func(context.Context) (featstore.Stats, error) {
	return featstore.Stats{}, nil
}))

func newStore(t *testing.T, ix featstore.Index, rd featstore.ChunkReader, opts ...featstore.Option) *featstore.Store {
	t.Helper()

	s, err := featstore.New(ix, rd, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func sortByStart(features []feature.Feature) {
	slices.SortFunc(features, func(a, b feature.Feature) int {
		if a.Start != b.Start {
			return int(a.Start - b.Start)
		}

		return int(a.End - b.End)
	})
}

// Contract: a query returns exactly the stored features overlapping the
// closed window, named after their reference.
func Test_QueryFeatures_Returns_Overlapping_Features_When_Window_Spans_Two_Chunks(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	got, err := s.Collect(t.Context(), featstore.Query{Ref: "chr1", Start: 12, End: 22})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	sortByStart(got)

	want := []feature.Feature{
		{RefID: 1, Ref: "chr1", Start: 10, End: 20},
		{RefID: 1, Ref: "chr1", Start: 15, End: 25},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
}

// Contract: reference names are regularized before lookup.
func Test_QueryFeatures_Matches_Reference_When_Name_Differs_Only_In_Convention(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	got, err := s.Collect(t.Context(), featstore.Query{Ref: "Chr01", Start: 55, End: 55})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(got) != 1 || got[0].Start != 50 || got[0].Ref != "chr1" {
		t.Fatalf("got %+v, want the (50,60) feature on chr1", got)
	}
}

// Contract: an unknown reference is not an error.
func Test_QueryFeatures_Returns_Nothing_When_Reference_Unknown(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	got, err := s.Collect(t.Context(), featstore.Query{Ref: "chrX", Start: 0, End: 100})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(got) != 0 {
		t.Fatalf("got %d features, want 0", len(got))
	}

	if n := rd.totalCalls(); n != 0 {
		t.Fatalf("reader calls = %d, want 0", n)
	}
}

// Contract: an empty chunk list completes immediately with no features.
func Test_QueryFeatures_Completes_When_No_Chunks_Selected(t *testing.T) {
	t.Parallel()

	ix := &fakeIndex{refs: []feature.Reference{{ID: 1, Name: "chr1", Length: 10}}}
	s := newStore(t, ix, newFakeReader(nil), noStats)

	calls := 0

	err := s.QueryFeatures(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 10}, func(feature.Feature) { calls++ })
	if err != nil {
		t.Fatalf("QueryFeatures: %v", err)
	}

	if calls != 0 {
		t.Fatalf("onFeature called %d times", calls)
	}
}

// Contract: an oversized chunk fails the query before any chunk is fetched,
// with a message that names both sizes.
func Test_QueryFeatures_Fails_Without_Fetching_When_Chunk_Exceeds_Limit(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	ix.chunks[1] = append(ix.chunks[1], feature.Chunk{ID: feature.ChunkID{Offset: 264, Length: 10}, Size: 6_000_000})

	s := newStore(t, ix, rd, noStats)

	calls := 0

	err := s.QueryFeatures(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 100}, func(feature.Feature) { calls++ })
	if !errors.Is(err, featstore.ErrChunkOverflow) {
		t.Fatalf("err = %v, want ErrChunkOverflow", err)
	}

	var overflow *featstore.OverflowError
	if !errors.As(err, &overflow) || overflow.Size != 6_000_000 {
		t.Fatalf("err = %#v, want *OverflowError with size 6000000", err)
	}

	want := "too many features: chunk size 6,000,000 bytes exceeds chunk size limit of 5,000,000 bytes"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}

	if calls != 0 || rd.totalCalls() != 0 {
		t.Fatalf("onFeature calls = %d, reader calls = %d, want 0 and 0", calls, rd.totalCalls())
	}
}

// Contract: a fetch failure is reported once, and no feature is delivered
// after the call returned, even if a sibling chunk resolves later.
func Test_QueryFeatures_Reports_First_Error_Once_When_One_Chunk_Fails(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	rd.failures[chunkA] = 1
	release := make(chan struct{})
	rd.gates[chunkB] = release

	s := newStore(t, ix, rd, noStats)

	var returned, late atomic.Bool

	err := s.QueryFeatures(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 100}, func(feature.Feature) {
		if returned.Load() {
			late.Store(true)
		}
	})
	returned.Store(true)

	if !errors.Is(err, featstore.ErrFetchDecode) {
		t.Fatalf("err = %v, want ErrFetchDecode", err)
	}

	var chunkErr *featstore.ChunkError
	if !errors.As(err, &chunkErr) || chunkErr.Chunk != chunkA {
		t.Fatalf("err = %v, want ChunkError for %s", err, chunkA)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for s.CacheStats().Entries < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	time.Sleep(10 * time.Millisecond)

	if late.Load() {
		t.Fatal("onFeature called after QueryFeatures returned")
	}
}

// Contract: failed fetches are not cached; the next query retries.
func Test_QueryFeatures_Retries_Chunk_When_Previous_Fetch_Failed(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	rd.failures[chunkB] = 1

	s := newStore(t, ix, rd, noStats)
	q := featstore.Query{Ref: "chr1", Start: 12, End: 22}

	if _, err := s.Collect(t.Context(), q); !errors.Is(err, featstore.ErrFetchDecode) {
		t.Fatalf("first query err = %v, want ErrFetchDecode", err)
	}

	got, err := s.Collect(t.Context(), q)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("second query got %d features, want 2", len(got))
	}

	rd.mu.Lock()
	bCalls := rd.calls[chunkB]
	rd.mu.Unlock()

	if bCalls != 2 {
		t.Fatalf("chunk B fetched %d times, want 2", bCalls)
	}
}

// Contract: concurrent queries over the same chunk share one fetch.
func Test_QueryFeatures_Fetches_Chunk_Once_When_Queries_Overlap(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	release := make(chan struct{})
	rd.gates[chunkA] = release
	rd.gates[chunkB] = release

	s := newStore(t, ix, rd, noStats)

	const queries = 8

	var wg sync.WaitGroup

	errs := make(chan error, queries)

	for range queries {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.Collect(context.Background(), featstore.Query{Ref: "chr1", Start: 0, End: 100})
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.CacheStats().Joins < 2*(queries-1) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("query: %v", err)
		}
	}

	if n := rd.totalCalls(); n != 2 {
		t.Fatalf("reader calls = %d, want 2", n)
	}
}

// Contract: queries on a composite are answered in logical coordinates,
// keeping the physical position in OriginalStart/OriginalEnd.
func Test_QueryFeatures_Projects_Features_When_Reference_Is_Composite(t *testing.T) {
	t.Parallel()

	table, err := projection.NewTable(projection.Composite{
		Name: "ctgA",
		Segments: []projection.Segment{
			{Ref: "chr1", Start: 1000, End: 2000},
			{Ref: "chr2", Start: 0, End: 500},
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	ix := &fakeIndex{
		refs:   []feature.Reference{{ID: 1, Name: "chr1", Length: 5000}},
		chunks: map[int][]feature.Chunk{1: {{ID: chunkA, Size: 10}}},
	}
	rd := newFakeReader(map[feature.ChunkID][]feature.Feature{
		chunkA: {feat(1, 1005, 1015), feat(1, 1030, 1040)},
	})

	s := newStore(t, ix, rd, noStats, featstore.WithProjector(table))

	got, err := s.Collect(t.Context(), featstore.Query{Ref: "ctgA", Start: 10, End: 20})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []feature.Feature{{
		RefID: 1, Ref: "ctgA", Start: 5, End: 15,
		Projected: true, OriginalStart: 1005, OriginalEnd: 1015,
	}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
}

// Contract: a composite named like its backing reference still delivers
// features in logical coordinates.
func Test_QueryFeatures_Projects_Features_When_Composite_Shares_Reference_Name(t *testing.T) {
	t.Parallel()

	table, err := projection.NewTable(projection.Composite{
		Name:     "ctgA",
		Segments: []projection.Segment{{Ref: "ctgA", Start: 1000, End: 2000}},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	ix := &fakeIndex{
		refs:   []feature.Reference{{ID: 1, Name: "ctgA", Length: 5000}},
		chunks: map[int][]feature.Chunk{1: {{ID: chunkA, Size: 10}}},
	}
	rd := newFakeReader(map[feature.ChunkID][]feature.Feature{
		chunkA: {feat(1, 1005, 1015), feat(1, 1030, 1040)},
	})

	s := newStore(t, ix, rd, noStats, featstore.WithProjector(table))

	got, err := s.Collect(t.Context(), featstore.Query{Ref: "ctgA", Start: 10, End: 20})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []feature.Feature{{
		RefID: 1, Ref: "ctgA", Start: 5, End: 15,
		Projected: true, OriginalStart: 1005, OriginalEnd: 1015,
	}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
}

// Contract: an inverted window is rejected.
func Test_QueryFeatures_Rejects_Query_When_End_Before_Start(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	_, err := s.Collect(t.Context(), featstore.Query{Ref: "chr1", Start: 20, End: 10})
	if !errors.Is(err, featstore.ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}

// Contract: an index load failure reaches feature queries, stats and
// reference checks with one identical error.
func Test_Store_Fails_Every_Tier_When_Index_Load_Fails(t *testing.T) {
	t.Parallel()

	cause := errors.New("index file truncated")
	ix, rd := twoChunkFixture()
	ix.loadErr = cause

	s := newStore(t, ix, rd, noStats)

	queryErr := s.QueryFeatures(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 10}, func(feature.Feature) {
		t.Error("onFeature called on failed store")
	})
	_, statsErr := s.GlobalStats(t.Context())
	_, hasErr := s.HasReference(t.Context(), "chr1")

	for name, err := range map[string]error{"query": queryErr, "stats": statsErr, "has": hasErr} {
		if !errors.Is(err, featstore.ErrInitialization) || !errors.Is(err, cause) {
			t.Fatalf("%s err = %v, want initialization failure wrapping cause", name, err)
		}
	}

	if queryErr != statsErr || statsErr != hasErr { //nolint:errorlint // identity is the contract
		t.Fatal("tiers returned different errors")
	}

	if got := s.State(); got != readiness.Failed {
		t.Fatalf("State() = %v, want failed", got)
	}
}

// Contract: the index load is bounded by the init timeout.
func Test_Store_Fails_With_Timeout_When_Index_Load_Hangs(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	ix.loadGate = make(chan struct{})

	s := newStore(t, ix, rd, noStats, featstore.WithInitTimeout(20*time.Millisecond))

	err := s.Ready(t.Context())
	if !errors.Is(err, featstore.ErrInitialization) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ready = %v, want initialization failure from deadline", err)
	}
}

// Contract: a stats failure after the index loaded still fails feature
// queries.
func Test_Store_Fails_Feature_Queries_When_Stats_Estimation_Fails(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	cause := errors.New("sampling failed")

	s := newStore(t, ix, rd, featstore.WithStatsEstimator(featstore.StatsEstimatorFunc(
		func(context.Context) (featstore.Stats, error) { return featstore.Stats{}, cause },
	)))

	if _, err := s.GlobalStats(t.Context()); !errors.Is(err, cause) {
		t.Fatalf("GlobalStats = %v, want %v", err, cause)
	}

	_, err := s.Collect(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 100})
	if !errors.Is(err, featstore.ErrInitialization) {
		t.Fatalf("Collect = %v, want ErrInitialization", err)
	}
}

// Contract: HasReference answers after stats are ready, with regularized
// names.
func Test_HasReference_Reports_Membership_When_Stats_Ready(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	for name, want := range map[string]bool{"chr1": true, "CHROM1": true, "1": true, "chr2": false} {
		got, err := s.HasReference(t.Context(), name)
		if err != nil {
			t.Fatalf("HasReference(%q): %v", name, err)
		}

		if got != want {
			t.Fatalf("HasReference(%q) = %v, want %v", name, got, want)
		}
	}
}

// Contract: the default estimator samples the longest reference until it
// has seen enough features.
func Test_GlobalStats_Samples_Longest_Reference_When_Using_Default_Estimator(t *testing.T) {
	t.Parallel()

	var dense []feature.Feature
	for start := int64(0); start < 10_000; start += 10 {
		dense = append(dense, feat(2, start, start+5))
	}

	ix := &fakeIndex{
		refs: []feature.Reference{
			{ID: 1, Name: "chr1", Length: 500},
			{ID: 2, Name: "chr2", Length: 10_000},
		},
		chunks: map[int][]feature.Chunk{2: {{ID: chunkA, Size: 1000}}},
	}
	rd := newFakeReader(map[feature.ChunkID][]feature.Feature{chunkA: dense})

	s := newStore(t, ix, rd, featstore.WithStatsTimeout(time.Minute))

	stats, err := s.GlobalStats(t.Context())
	if err != nil {
		t.Fatalf("GlobalStats: %v", err)
	}

	if stats.SampleRef != "chr2" || stats.References != 2 {
		t.Fatalf("stats = %+v, want sample on chr2 with 2 references", stats)
	}

	if stats.FeatureCount < 300 || stats.Saturated {
		t.Fatalf("stats = %+v, want >= 300 features, not saturated", stats)
	}

	if stats.FeatureDensity < 0.09 || stats.FeatureDensity > 0.11 {
		t.Fatalf("FeatureDensity = %v, want about 0.1", stats.FeatureDensity)
	}

	if rd.totalCalls() != 1 {
		t.Fatalf("reader calls = %d, want 1 (sampling is cache-backed)", rd.totalCalls())
	}
}

// Contract: sampling that hits the chunk size limit marks the stats
// saturated instead of failing initialization.
func Test_GlobalStats_Marks_Saturated_When_Sample_Overflows(t *testing.T) {
	t.Parallel()

	ix := &fakeIndex{
		refs:   []feature.Reference{{ID: 1, Name: "chr1", Length: 1000}},
		chunks: map[int][]feature.Chunk{1: {{ID: chunkA, Size: 50}}},
	}

	s := newStore(t, ix, newFakeReader(nil), featstore.WithChunkSizeLimit(10))

	stats, err := s.GlobalStats(t.Context())
	if err != nil {
		t.Fatalf("GlobalStats: %v", err)
	}

	if !stats.Saturated {
		t.Fatalf("stats = %+v, want saturated", stats)
	}

	if got := s.State(); got != readiness.StatsReady {
		t.Fatalf("State() = %v, want stats-ready", got)
	}
}

// Contract: a closed store rejects calls.
func Test_Store_Returns_ErrClosed_When_Closed(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()

	s, err := featstore.New(ix, rd, noStats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.Collect(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 10}); !errors.Is(err, featstore.ErrClosed) {
		t.Fatalf("Collect after Close = %v, want ErrClosed", err)
	}
}

// Contract: closing while the index is still loading releases waiters with
// ErrClosed, not with the cancelled load.
func Test_Store_Releases_Waiters_With_ErrClosed_When_Closed_During_Load(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	ix.loadGate = make(chan struct{})

	s, err := featstore.New(ix, rd, noStats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	waitErr := make(chan error, 1)

	go func() {
		_, collectErr := s.Collect(context.Background(), featstore.Query{Ref: "chr1", Start: 0, End: 10})
		waitErr <- collectErr
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-waitErr:
		if !errors.Is(err, featstore.ErrClosed) {
			t.Fatalf("Collect during load = %v, want ErrClosed", err)
		}

		if errors.Is(err, featstore.ErrInitialization) {
			t.Fatalf("Collect during load = %v, want no initialization failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Collect did not return after Close")
	}

	if err := s.Ready(t.Context()); !errors.Is(err, featstore.ErrClosed) {
		t.Fatalf("Ready after Close = %v, want ErrClosed", err)
	}
}

// Contract: the collector reports query outcomes and cache counters.
func Test_Collector_Exports_Query_Outcomes_When_Registered(t *testing.T) {
	t.Parallel()

	ix, rd := twoChunkFixture()
	s := newStore(t, ix, rd, noStats)

	if _, err := s.Collect(t.Context(), featstore.Query{Ref: "chr1", Start: 0, End: 100}); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(s.Collector())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	values := map[string]float64{}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "{" + lp.GetValue() + "}"
			}

			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"featstore_queries_total{ok}":        1,
		"featstore_cache_misses_total":       2,
		"featstore_features_delivered_total": 3,
		"featstore_cache_features":           3,
	}

	for name, v := range want {
		if values[name] != v {
			t.Fatalf("%s = %v, want %v (all: %v)", name, values[name], v, values)
		}
	}
}
