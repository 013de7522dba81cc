package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	docsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docs_processed_total",
		Help: "Total documents processed (new versions).",
	})

	docsDeprovisionedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docs_deprovisioned_total",
		Help: "Total documents successfully deprovisioned.",
	})

	chunksEnrichedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunks_enriched_total",
		Help: "Total chunks enriched, by stage.",
	}, []string{"stage"})

	processingErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_errors_total",
		Help: "Total errors during processing.",
	}, []string{"worker_type", "stage"})

	docProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doc_processing_duration_seconds",
		Help:    "Histogram of document processing time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
