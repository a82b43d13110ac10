package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-indexer ingestion metrics
	CheckpointHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lodestone_checkpoint_height",
			Help: "The last block height committed per indexer",
		},
		[]string{"indexer"},
	)

	BlocksCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_blocks_committed_total",
			Help: "Total number of blocks committed",
		},
		[]string{"indexer"},
	)

	EntitiesStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_entities_staged_total",
			Help: "Total number of entities staged by module executions",
		},
		[]string{"indexer"},
	)

	ExecutionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_execution_outcomes_total",
			Help: "Module execution outcomes by status",
		},
		[]string{"indexer", "status"},
	)

	ExecutionTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestone_execution_duration_seconds",
			Help:    "Time taken by one block-handler call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"indexer"},
	)

	CommitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestone_commit_duration_seconds",
			Help:    "Time taken to persist one block's entities",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"indexer"},
	)

	BlockRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_block_retries_total",
			Help: "Total number of per-block retry attempts",
		},
		[]string{"indexer"},
	)

	IndexerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lodestone_indexer_state",
			Help: "Current ingestion loop state per indexer (enumerated)",
		},
		[]string{"indexer"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestone_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestone_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lodestone_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestone_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lodestone_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func CheckpointHeightSet(indexer string, height uint64) {
	CheckpointHeight.WithLabelValues(indexer).Set(float64(height))
}

func BlocksCommittedInc(indexer string) {
	BlocksCommitted.WithLabelValues(indexer).Inc()
}

func EntitiesStagedAdd(indexer string, count int) {
	EntitiesStaged.WithLabelValues(indexer).Add(float64(count))
}

func ExecutionOutcomeInc(indexer, status string) {
	ExecutionOutcomes.WithLabelValues(indexer, status).Inc()
}

func ExecutionTimeLog(indexer string, duration time.Duration) {
	ExecutionTime.WithLabelValues(indexer).Observe(duration.Seconds())
}

func CommitTimeLog(indexer string, duration time.Duration) {
	CommitTime.WithLabelValues(indexer).Observe(duration.Seconds())
}

func BlockRetryInc(indexer string) {
	BlockRetries.WithLabelValues(indexer).Inc()
}

func IndexerStateSet(indexer string, state uint8) {
	IndexerState.WithLabelValues(indexer).Set(float64(state))
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
