package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_jobs_enqueued_total",
		Help: "The total number of jobs enqueued per queue.",
	}, []string{"queue"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_jobs_processed_total",
		Help: "The total number of processed jobs per queue and outcome.",
	}, []string{"queue", "outcome"}) // outcome: completed, failed, retried

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docflow_job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"queue"})

	FilesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_files_ingested_total",
		Help: "Files accepted for import per source.",
	}, []string{"source"})

	ExtractionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_extraction_fallbacks_total",
		Help: "Field extractions that required a fallback strategy.",
	}, []string{"strategy"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_emails_sent_total",
		Help: "Email send attempts per provider and outcome.",
	}, []string{"provider", "outcome"}) // outcome: sent, failed, throttled

	DocumentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_documents_retention_deleted_total",
		Help: "Documents removed by the retention sweep.",
	})
)
