package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailyfeed_items_processed_total",
		Help: "The total number of processed feed items by terminal status",
	}, []string{"status"})

	ItemsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailyfeed_items_skipped_total",
		Help: "The total number of items skipped because their state was already complete",
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dailyfeed_llm_request_duration_seconds",
		Help:    "Duration of summarizer requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "outcome"})

	LLMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailyfeed_llm_retries_total",
		Help: "The total number of summarizer retry attempts",
	})

	ContentFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailyfeed_content_fetch_failures_total",
		Help: "The total number of content fetches that fell back to title-only input",
	})

	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailyfeed_ingest_runs_total",
		Help: "The total number of ingest runs by outcome",
	}, []string{"outcome"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dailyfeed_ingest_duration_seconds",
		Help:    "Duration of a full ingest run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	CalibrationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dailyfeed_calibration_runs_total",
		Help: "The total number of score calibration passes by outcome",
	}, []string{"outcome"})

	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dailyfeed_store_write_failures_total",
		Help: "The total number of failed item upserts",
	})
)
