package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// State cache metrics
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_cache_hits_total",
			Help: "Total number of state cache hits",
		},
		[]string{"method"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_cache_misses_total",
			Help: "Total number of state cache misses",
		},
		[]string{"method"},
	)

	upstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_upstream_calls_total",
			Help: "Total number of upstream contract calls",
		},
		[]string{"kind", "method"},
	)

	upstreamFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_upstream_failovers_total",
			Help: "Total number of endpoint rotations caused by transient upstream errors",
		},
		[]string{"operation"},
	)

	// Ingestion metrics
	blocksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statewatch_blocks_ingested_total",
			Help: "Total number of blocks ingested and committed",
		},
	)

	eventsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_events_persisted_total",
			Help: "Total number of events persisted",
		},
		[]string{"kind", "event"},
	)

	logsUnparsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_logs_unparsed_total",
			Help: "Total number of logs skipped because they matched no declared event",
		},
		[]string{"kind"},
	)

	ingestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "statewatch_block_ingest_duration_seconds",
			Help:    "Time taken to ingest a single block",
			Buckets: prometheus.DefBuckets,
		},
	)

	ingestAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statewatch_block_ingest_aborts_total",
			Help: "Total number of aborted block ingestion attempts",
		},
		[]string{"reason"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statewatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statewatch_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statewatch_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func CacheHitInc(method string) {
	cacheHits.WithLabelValues(method).Inc()
}

func CacheMissInc(method string) {
	cacheMisses.WithLabelValues(method).Inc()
}

func UpstreamCallInc(kind, method string) {
	upstreamCalls.WithLabelValues(kind, method).Inc()
}

func UpstreamFailoverInc(operation string) {
	upstreamFailovers.WithLabelValues(operation).Inc()
}

func BlockIngestedInc() {
	blocksIngested.Inc()
}

func EventsPersistedInc(kind, event string) {
	eventsPersisted.WithLabelValues(kind, event).Inc()
}

func LogUnparsedInc(kind string) {
	logsUnparsed.WithLabelValues(kind).Inc()
}

func BlockIngestDuration(duration time.Duration) {
	ingestDuration.Observe(duration.Seconds())
}

func IngestAbortInc(reason string) {
	ingestAborts.WithLabelValues(reason).Inc()
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
