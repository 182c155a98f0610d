package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledgerlens",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	ScoringRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "scoring_requests_total",
			Help:      "Total number of LLM match-scoring requests",
		},
		[]string{"provider", "model", "status"},
	)

	ScoringRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledgerlens",
			Name:      "scoring_request_duration_seconds",
			Help:      "LLM match-scoring request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	FragmentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "fragments_indexed_total",
			Help:      "Total fragments written to batch indices",
		},
		[]string{"source_type"},
	)

	ExtractionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "extraction_failures_total",
			Help:      "Evidence items skipped due to extraction errors",
		},
	)

	TransactionsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledgerlens",
			Name:      "transactions_resolved_total",
			Help:      "Transactions classified into digest or exception rows",
		},
		[]string{"path", "outcome"}, // path: "rules" / "retrieval"; outcome: "digest" / "exception"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(ScoringRequestsTotal)
	prometheus.MustRegister(ScoringRequestDuration)
	prometheus.MustRegister(FragmentsIndexedTotal)
	prometheus.MustRegister(ExtractionFailuresTotal)
	prometheus.MustRegister(TransactionsResolvedTotal)
	pipelineMetricsRegistered = true
}
