package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the lyricsync service
type Metrics struct {
	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionRetries   prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// LRC codec metrics
	LinesParsed  prometheus.Counter
	LinesDropped prometheus.Counter

	// Job metrics
	JobsCreated        prometheus.Counter
	JobsCancelled      prometheus.Counter
	ActiveJobs         prometheus.Gauge
	LateResultsDropped prometheus.Counter

	// Watcher metrics
	FilesDetected    prometheus.Counter
	FilesTranscribed prometheus.Counter
	FilesFailed      prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_transcription_retries_total",
			Help: "Total number of rate-limited transcription retries",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lyricsync_transcription_duration_seconds",
			Help:    "Duration of transcription requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// LRC codec metrics
		LinesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_lrc_lines_parsed_total",
			Help: "Total number of timestamped lyric lines parsed",
		}),
		LinesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_lrc_lines_dropped_total",
			Help: "Total number of untagged input lines dropped by the parser",
		}),

		// Job metrics
		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_jobs_created_total",
			Help: "Total number of transcription jobs created",
		}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_jobs_cancelled_total",
			Help: "Total number of transcription jobs cancelled",
		}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lyricsync_active_jobs",
			Help: "Current number of jobs in the processing state",
		}),
		LateResultsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_late_results_dropped_total",
			Help: "Total number of results discarded because the job was cancelled first",
		}),

		// Watcher metrics
		FilesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_watcher_files_detected_total",
			Help: "Total number of audio files detected in the watch directory",
		}),
		FilesTranscribed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_watcher_files_transcribed_total",
			Help: "Total number of watched files transcribed to LRC",
		}),
		FilesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lyricsync_watcher_files_failed_total",
			Help: "Total number of watched files that failed transcription",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lyricsync_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lyricsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lyricsync_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTranscriptionRequest increments the transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetries adds to the retry counter
func (m *Metrics) RecordTranscriptionRetries(count uint64) {
	m.TranscriptionRetries.Add(float64(count))
}

// RecordParse records the outcome of one codec parse call
func (m *Metrics) RecordParse(parsed, dropped int) {
	m.LinesParsed.Add(float64(parsed))
	m.LinesDropped.Add(float64(dropped))
}

// RecordJobCreated increments the jobs created counter
func (m *Metrics) RecordJobCreated() {
	m.JobsCreated.Inc()
}

// RecordJobCancelled increments the jobs cancelled counter
func (m *Metrics) RecordJobCancelled() {
	m.JobsCancelled.Inc()
}

// SetActiveJobs sets the current number of processing jobs
func (m *Metrics) SetActiveJobs(count int) {
	m.ActiveJobs.Set(float64(count))
}

// RecordLateResultDropped increments the late results counter
func (m *Metrics) RecordLateResultDropped() {
	m.LateResultsDropped.Inc()
}

// RecordFileDetected increments the watcher detection counter
func (m *Metrics) RecordFileDetected() {
	m.FilesDetected.Inc()
}

// RecordFileTranscribed increments the watcher success counter
func (m *Metrics) RecordFileTranscribed() {
	m.FilesTranscribed.Inc()
}

// RecordFileFailed increments the watcher failure counter
func (m *Metrics) RecordFileFailed() {
	m.FilesFailed.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
