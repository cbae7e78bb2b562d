package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion and vector store metrics.
var (
	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed by outcome",
		},
		[]string{"file_type", "outcome"}, // outcome: "ok" / error class
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks written to the vector store",
		},
		[]string{"file_type"},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_stage_duration_seconds",
			Help:      "Duration of each ingestion stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "op", "status"},
	)

	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Vector store operations retried after a transient failure",
		},
		[]string{"backend", "op"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Jobs waiting for an ingestion worker",
		},
	)
)

var ingestOnce sync.Once

// RegisterIngestMetrics registers ingestion and store metrics. Safe to call more than once.
func RegisterIngestMetrics() {
	ingestOnce.Do(func() {
		prometheus.MustRegister(DocumentsTotal)
		prometheus.MustRegister(ChunksTotal)
		prometheus.MustRegister(IngestDuration)
		prometheus.MustRegister(StoreOpDuration)
		prometheus.MustRegister(StoreRetriesTotal)
		prometheus.MustRegister(QueueDepth)
	})
}
