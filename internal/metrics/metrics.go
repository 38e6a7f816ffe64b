package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Import metrics
var (
	ImportBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_archive_import_batches_total",
			Help: "Total number of import batches started",
		},
	)

	ImportFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_import_files_total",
			Help: "Total number of files processed by imports",
		},
		[]string{"outcome"}, // "imported", "duplicate", "errored"
	)

	ImportChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_archive_import_chunk_duration_seconds",
			Help:    "Duration of one import chunk in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ImportsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_archive_imports_in_flight",
			Help: "Number of import batches currently running",
		},
	)
)

// Job queue metrics
var (
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_jobs_enqueued_total",
			Help: "Total number of jobs enqueued per queue",
		},
		[]string{"queue"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_jobs_completed_total",
			Help: "Total number of jobs finished per queue and status",
		},
		[]string{"queue", "status"}, // "completed", "failed", "dead_letter"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_archive_job_duration_seconds",
			Help:    "Job handler execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"queue"},
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_archive_jobs_in_flight",
			Help: "Number of jobs currently being processed per queue",
		},
		[]string{"queue"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_archive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_archive_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Derived asset metrics
var (
	DerivedAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_derived_assets_total",
			Help: "Total number of derived asset generations per kind and status",
		},
		[]string{"kind", "status"}, // kind: "thumbnail", "preview", "proxy"; status: "generated", "absent", "failed", "cached"
	)

	DerivedAssetDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_archive_derived_asset_duration_seconds",
			Help:    "Derived asset generation time in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)
)

// Integrity metrics
var (
	IntegrityRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_integrity_runs_total",
			Help: "Total number of integrity manifest operations",
		},
		[]string{"operation"}, // "build", "validate", "append"
	)

	IntegrityIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_integrity_issues_total",
			Help: "Total number of integrity issues detected by type",
		},
		[]string{"type"}, // "missing_file", "checksum_mismatch"
	)

	IntegrityRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_archive_integrity_run_duration_seconds",
			Help:    "Duration of integrity build/validate runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_archive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_archive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_archive_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)
