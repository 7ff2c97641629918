package metrics

import "github.com/prometheus/client_golang/prometheus"

// Worker and query path Prometheus metrics.
var (
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Name:      "tasks_enqueued_total",
			Help:      "Tasks accepted by the API",
		},
		[]string{"kind"},
	)

	TasksClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memex",
			Name:      "tasks_claimed_total",
			Help:      "Tasks claimed by the worker",
		},
	)

	TasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal state",
		},
		[]string{"kind", "status", "error_kind"},
	)

	TasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memex",
			Name:      "tasks_active",
			Help:      "Tasks currently being processed by this worker",
		},
	)

	SegmentsIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memex",
			Name:      "segments_indexed_total",
			Help:      "Segments written to the vector store",
		},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memex",
			Name:      "task_duration_seconds",
			Help:      "Time from claim to terminal state",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind", "status"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memex",
			Name:      "search_duration_seconds",
			Help:      "Query engine latency including embedding and metadata join",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)

	OrphanedHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memex",
			Name:      "orphaned_hits_total",
			Help:      "Vector hits without segment metadata, skipped at query time",
		},
		[]string{"collection"},
	)
)

var workerMetricsRegistered bool

// RegisterWorkerMetrics registers task, worker and query metrics. Must be called once from main.
func RegisterWorkerMetrics() {
	if workerMetricsRegistered {
		return
	}
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksClaimedTotal)
	prometheus.MustRegister(TasksFinishedTotal)
	prometheus.MustRegister(TasksActive)
	prometheus.MustRegister(SegmentsIndexedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(OrphanedHitsTotal)
	workerMetricsRegistered = true
}

// Register registers every memex collector.
func Register() {
	RegisterHTTPMetrics()
	RegisterEmbeddingMetrics()
	RegisterCompletionMetrics()
	RegisterWorkerMetrics()
}
