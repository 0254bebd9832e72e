// Package observability exposes Prometheus metrics for the import and
// categorization pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsImported tracks rows inserted by imports, labeled by outcome
	RowsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlite_import_rows_total",
			Help: "Total number of CSV rows processed by imports",
		},
		[]string{"outcome"}, // imported, duplicate, error
	)

	// ImportDuration tracks end-to-end import duration
	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlite_import_duration_seconds",
			Help:    "Import duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CategorizedTotal tracks categorized transactions by source
	CategorizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlite_categorized_total",
			Help: "Total number of transactions categorized, by source",
		},
		[]string{"source"}, // rule, ai, skipped
	)

	// ClassifierCalls tracks external classifier invocations by result
	ClassifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlite_classifier_calls_total",
			Help: "Total number of external classifier calls",
		},
		[]string{"result"}, // ok, transport, timeout, invocation
	)

	// ClassifierRetries counts retry attempts against the classifier
	ClassifierRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlite_classifier_retries_total",
			Help: "Total number of classifier retry attempts",
		},
	)

	// BatchDuration tracks full categorization run duration
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlite_categorization_batch_duration_seconds",
			Help:    "Categorization run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)
