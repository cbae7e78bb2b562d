package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docingest"

// Embedding Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "mode", "status"}, // mode: "batch" / "single"
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model", "mode"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model", "type"},
	)

	EmbeddingFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Batch requests retried per item, and items replaced by zero vectors",
		},
		[]string{"model", "kind"}, // "per_item" / "zero_vector"
	)
)

var embOnce sync.Once

// RegisterEmbeddingMetrics registers Prometheus embedding metrics. Safe to call more than once.
func RegisterEmbeddingMetrics() {
	embOnce.Do(func() {
		prometheus.MustRegister(EmbeddingRequestsTotal)
		prometheus.MustRegister(EmbeddingRequestDuration)
		prometheus.MustRegister(EmbeddingTokensTotal)
		prometheus.MustRegister(EmbeddingFallbacksTotal)
	})
}
