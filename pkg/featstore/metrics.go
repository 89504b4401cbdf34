package featstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports store counters as Prometheus metrics. Values are read
// at scrape time; registering the collector does not add work to queries.
type Collector struct {
	store *Store

	queries       *prometheus.Desc
	overflows     *prometheus.Desc
	chunksFetched *prometheus.Desc
	featuresOut   *prometheus.Desc
	state         *prometheus.Desc

	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	cacheJoins      *prometheus.Desc
	cacheFillErrors *prometheus.Desc
	cacheEvictions  *prometheus.Desc
	cacheInFlight   *prometheus.Desc
	cacheEntries    *prometheus.Desc
	cacheSize       *prometheus.Desc
	cacheCapacity   *prometheus.Desc
}

// Collector returns a Prometheus collector for s.
func (s *Store) Collector() *Collector {
	return &Collector{
		store: s,

		queries: prometheus.NewDesc(
			"featstore_queries_total",
			"Feature queries by outcome",
			[]string{"outcome"}, nil,
		),
		overflows: prometheus.NewDesc(
			"featstore_chunk_overflows_total",
			"Queries rejected because a chunk exceeded the chunk size limit, sampling included",
			nil, nil,
		),
		chunksFetched: prometheus.NewDesc(
			"featstore_chunk_lookups_total",
			"Chunk cache lookups issued by queries",
			nil, nil,
		),
		featuresOut: prometheus.NewDesc(
			"featstore_features_delivered_total",
			"Features delivered to query callbacks",
			nil, nil,
		),
		state: prometheus.NewDesc(
			"featstore_init_state",
			"Initialization state: 0 uninitialized, 1 features ready, 2 stats ready, 3 failed",
			nil, nil,
		),

		cacheHits: prometheus.NewDesc(
			"featstore_cache_hits_total",
			"Chunk lookups served from a decoded entry",
			nil, nil,
		),
		cacheMisses: prometheus.NewDesc(
			"featstore_cache_misses_total",
			"Chunk lookups that started a fetch",
			nil, nil,
		),
		cacheJoins: prometheus.NewDesc(
			"featstore_cache_joins_total",
			"Chunk lookups that joined an in-flight fetch",
			nil, nil,
		),
		cacheFillErrors: prometheus.NewDesc(
			"featstore_cache_fill_errors_total",
			"Chunk fetches that failed",
			nil, nil,
		),
		cacheEvictions: prometheus.NewDesc(
			"featstore_cache_evictions_total",
			"Decoded chunks evicted to stay under capacity",
			nil, nil,
		),
		cacheInFlight: prometheus.NewDesc(
			"featstore_cache_inflight",
			"Chunk fetches currently running",
			nil, nil,
		),
		cacheEntries: prometheus.NewDesc(
			"featstore_cache_entries",
			"Decoded chunks held",
			nil, nil,
		),
		cacheSize: prometheus.NewDesc(
			"featstore_cache_features",
			"Decoded features held",
			nil, nil,
		),
		cacheCapacity: prometheus.NewDesc(
			"featstore_cache_capacity_features",
			"Configured cache capacity in features",
			nil, nil,
		),
	}
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.overflows
	ch <- c.chunksFetched
	ch <- c.featuresOut
	ch <- c.state
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheJoins
	ch <- c.cacheFillErrors
	ch <- c.cacheEvictions
	ch <- c.cacheInFlight
	ch <- c.cacheEntries
	ch <- c.cacheSize
	ch <- c.cacheCapacity
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := &c.store.counters

	for outcome, v := range map[string]uint64{
		"ok":                counters.queriesOK.Load(),
		"failed":            counters.queriesFailed.Load(),
		"overflow":          counters.queriesOverflow.Load(),
		"unknown_reference": counters.queriesUnknown.Load(),
	} {
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(v), outcome)
	}

	ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(counters.overflows.Load()))
	ch <- prometheus.MustNewConstMetric(c.chunksFetched, prometheus.CounterValue, float64(counters.chunksFetched.Load()))
	ch <- prometheus.MustNewConstMetric(c.featuresOut, prometheus.CounterValue, float64(counters.featuresOut.Load()))
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(c.store.State()))

	stats := c.store.CacheStats()

	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.cacheJoins, prometheus.CounterValue, float64(stats.Joins))
	ch <- prometheus.MustNewConstMetric(c.cacheFillErrors, prometheus.CounterValue, float64(stats.FillErrors))
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(c.cacheInFlight, prometheus.GaugeValue, float64(stats.InFlight))
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(stats.Entries))
	ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.cacheCapacity, prometheus.GaugeValue, float64(stats.MaxSize))
}
