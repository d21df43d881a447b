package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RunsTotal tracks the total number of extraction runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_runs_total",
			Help: "Total number of extraction runs",
		},
		[]string{"object", "status"}, // status: success, failed
	)

	// RunDuration measures extraction run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sfbulk_run_duration_seconds",
			Help:    "Extraction run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"object", "status"},
	)

	// RunsRunning tracks the number of runs currently in progress
	RunsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sfbulk_runs_running",
			Help: "Number of extraction runs in progress",
		},
		[]string{"object"},
	)

	// LastSuccessfulRun tracks the start time of the last successful run
	LastSuccessfulRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sfbulk_last_successful_run_timestamp",
			Help: "Start time of the last successful run (unix timestamp)",
		},
		[]string{"object"},
	)

	// JobsTotal counts bulk jobs by mode and terminal state
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_jobs_total",
			Help: "Total number of bulk jobs by terminal state",
		},
		[]string{"object", "mode", "state"}, // mode: single, chunked
	)

	// JobPolls counts job status polls
	JobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_job_polls_total",
			Help: "Total number of job status polls",
		},
		[]string{"object"},
	)

	// BatchesTotal counts batches by terminal state
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_batches_total",
			Help: "Total number of bulk batches by terminal state",
		},
		[]string{"object", "state"},
	)

	// SlicesWritten counts slice files written
	SlicesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_slices_written_total",
			Help: "Total number of slice files written",
		},
		[]string{"object", "empty"},
	)

	// RowsWritten counts data rows written to slices
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_rows_written_total",
			Help: "Total number of rows written to slice files",
		},
		[]string{"object"},
	)

	// HTTPRequests counts outbound requests by operation and status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"operation", "status"},
	)

	// HTTPRequestDuration measures outbound request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sfbulk_http_request_duration_seconds",
			Help:    "Outbound HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"operation"},
	)

	// RetriesTotal counts retried calls
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_retries_total",
			Help: "Total number of retried calls",
		},
		[]string{"operation"},
	)

	// ScheduledRuns counts runs started by the scheduler by trigger
	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_scheduled_runs_total",
			Help: "Total number of runs started by the scheduler",
		},
		[]string{"object", "trigger"}, // trigger: schedule, startup, manual
	)

	// ErrorsTotal counts errors by component and kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfbulk_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "kind"},
	)
)

// RecordRunStart records the start of a run
func RecordRunStart(object string) {
	RunsRunning.WithLabelValues(object).Inc()
}

// RecordRunComplete records the end of a run
func RecordRunComplete(object, status string, duration float64) {
	RunsRunning.WithLabelValues(object).Dec()
	RunsTotal.WithLabelValues(object, status).Inc()
	RunDuration.WithLabelValues(object, status).Observe(duration)
}

// RecordSuccessfulRun records the start timestamp of a successful run
func RecordSuccessfulRun(object string, unix float64) {
	LastSuccessfulRun.WithLabelValues(object).Set(unix)
}

// RecordJob records a finished bulk job
func RecordJob(object, mode, state string) {
	JobsTotal.WithLabelValues(object, mode, state).Inc()
}

// RecordPoll records a job status poll
func RecordPoll(object string) {
	JobPolls.WithLabelValues(object).Inc()
}

// RecordBatch records a batch reaching a terminal state
func RecordBatch(object, state string) {
	BatchesTotal.WithLabelValues(object, state).Inc()
}

// RecordSlice records a written slice and its row count
func RecordSlice(object string, rows int64) {
	empty := "false"
	if rows == 0 {
		empty = "true"
	}

	SlicesWritten.WithLabelValues(object, empty).Inc()
	RowsWritten.WithLabelValues(object).Add(float64(rows))
}

// RecordHTTPRequest records an outbound request
func RecordHTTPRequest(operation, status string, duration float64) {
	HTTPRequests.WithLabelValues(operation, status).Inc()
	HTTPRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRetry records a retried call
func RecordRetry(operation string) {
	RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordError records an error
func RecordError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordScheduledRun records a run started by the scheduler
func RecordScheduledRun(object, trigger string) {
	ScheduledRuns.WithLabelValues(object, trigger).Inc()
}
