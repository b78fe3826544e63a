package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarketxTrader/lyricsync/internal/config"
	"github.com/MarketxTrader/lyricsync/internal/job"
	"github.com/MarketxTrader/lyricsync/internal/lrc"
	"github.com/MarketxTrader/lyricsync/internal/metrics"
	"github.com/MarketxTrader/lyricsync/internal/transcription"
)

// maxUploadSize bounds multipart audio uploads.
const maxUploadSize = 32 << 20 // 32 MB

// HTTPServer provides the HTTP API: audio upload, job inspection, LRC
// parse/format, and monitoring endpoints.
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	jobs    *job.Manager
	client  *transcription.Client
	metrics *metrics.Metrics

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, jobs *job.Manager, client *transcription.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		jobs:      jobs,
		client:    client,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Audio upload endpoint
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Job inspection endpoints
	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	// LRC codec endpoints (editor preview / export)
	mux.HandleFunc("/lrc/parse", h.withMetrics("/lrc/parse", h.handleLRCParse))
	mux.HandleFunc("/lrc/format", h.withMetrics("/lrc/format", h.handleLRCFormat))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe implements the POST /transcribe endpoint. It accepts a
// multipart upload with a "file" field, registers a transcription job, and
// replies 202 with the job snapshot. With ?wait=true the handler blocks
// until the job reaches a terminal state and replies 200.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing audio file field 'file'", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}
	if len(audioData) == 0 {
		http.Error(w, "Audio file is empty", http.StatusBadRequest)
		return
	}

	mimeType, ok := transcription.MimeTypeForFile(header.Filename)
	if !ok {
		// Fall back to the MIME type the uploader declared.
		mimeType = header.Header.Get("Content-Type")
		if mimeType == "" || !strings.HasPrefix(mimeType, "audio/") {
			http.Error(w, "Unsupported audio format", http.StatusUnsupportedMediaType)
			return
		}
	}

	// The job must outlive this request, so it does not run on r.Context().
	info := h.jobs.Submit(context.Background(), header.Filename, audioData, mimeType)

	if r.URL.Query().Get("wait") == "true" {
		final, ok := h.jobs.Wait(r.Context(), info.ID)
		if !ok || final.State == job.StateProcessing {
			// Client went away mid-wait; the job keeps running.
			writeJSON(w, http.StatusAccepted, info)
			return
		}
		writeJSON(w, http.StatusOK, final)
		return
	}

	writeJSON(w, http.StatusAccepted, info)
}

// handleJobs implements the GET /jobs endpoint
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.jobs.List()

	response := map[string]interface{}{
		"total_jobs": len(infos),
		"timestamp":  time.Now().UTC(),
		"jobs":       infos,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleJobDetail implements the /jobs/{id} endpoints:
// GET /jobs/{id} for the snapshot, GET /jobs/{id}/lrc for the raw LRC
// download, DELETE /jobs/{id} to cancel.
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	jobID, wantLRC := strings.CutSuffix(rest, "/lrc")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodDelete && !wantLRC:
		if !h.jobs.Cancel(jobID) {
			http.Error(w, "Job not found or already finished", http.StatusConflict)
			return
		}
		info, _ := h.jobs.Get(jobID)
		writeJSON(w, http.StatusOK, info)

	case r.Method == http.MethodGet:
		info, exists := h.jobs.Get(jobID)
		if !exists {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}

		if !wantLRC {
			writeJSON(w, http.StatusOK, info)
			return
		}

		if info.State != job.StateReady {
			http.Error(w, "Job has no LRC result", http.StatusConflict)
			return
		}

		filename := strings.TrimSuffix(info.Filename, "."+extOf(info.Filename)) + ".lrc"
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		fmt.Fprint(w, info.LRC)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func extOf(name string) string {
	if idx := strings.LastIndex(name, "."); idx != -1 {
		return name[idx+1:]
	}
	return ""
}

// lrcParseRequest is the body of POST /lrc/parse
type lrcParseRequest struct {
	Text string `json:"text"`
}

// handleLRCParse implements the POST /lrc/parse endpoint used by editors to
// re-parse raw text for preview.
func (h *HTTPServer) handleLRCParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lrcParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	doc := lrc.Parse(req.Text)
	h.metrics.RecordParse(len(doc.Lines), lrc.NonBlankLines(req.Text)-len(doc.Lines))

	response := map[string]interface{}{
		"lines":            doc.Lines,
		"line_count":       len(doc.Lines),
		"duration_seconds": doc.Duration(),
	}

	writeJSON(w, http.StatusOK, response)
}

// lrcFormatRequest is the body of POST /lrc/format
type lrcFormatRequest struct {
	Lines []lrc.Line `json:"lines"`
}

// handleLRCFormat implements the POST /lrc/format endpoint, serializing a
// parsed document back to raw LRC text.
func (h *HTTPServer) handleLRCFormat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lrcFormatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	doc := lrc.Document{Lines: req.Lines}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, doc.Format())
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	clientStats := h.client.GetStats()
	jobStats := h.jobs.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "lyricsync",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"transcription": map[string]interface{}{
				"status":         "running",
				"total_requests": clientStats.TotalRequests,
				"success_rate":   clientStats.SuccessRate,
				"total_retries":  clientStats.TotalRetries,
			},
			"jobs": map[string]interface{}{
				"status":          "running",
				"total_jobs":      jobStats.TotalJobs,
				"processing_jobs": jobStats.ProcessingJobs,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
			"enabled": h.config.HTTP.Enabled,
		},
		"transcription": map[string]interface{}{
			"endpoint":          h.config.Transcription.Endpoint,
			"model":             h.config.Transcription.Model,
			"timeout":           h.config.Transcription.Timeout,
			"max_retries":       h.config.Transcription.MaxRetries,
			"temperature":       h.config.Transcription.Temperature,
			"max_output_tokens": h.config.Transcription.MaxOutputTokens,
			// Note: API key is intentionally omitted for security
		},
		"watcher": map[string]interface{}{
			"enabled":        h.config.Watcher.Enabled,
			"watch_dir":      h.config.Watcher.WatchDir,
			"output_dir":     h.config.Watcher.OutputDir,
			"check_interval": h.config.Watcher.CheckInterval,
			"quiet_duration": h.config.Watcher.QuietDuration,
			"max_wait":       h.config.Watcher.MaxWait,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"transcription": h.client.GetStats(),
		"jobs":          h.jobs.GetStats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "LRC Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"POST /transcribe":        "Upload an audio file (multipart field 'file'); ?wait=true blocks until done",
			"GET /jobs":               "List transcription jobs",
			"GET /jobs/{id}":          "Get job status and result",
			"GET /jobs/{id}/lrc":      "Download the LRC result as a file",
			"DELETE /jobs/{id}":       "Cancel a job",
			"POST /lrc/parse":         "Parse raw LRC text into timestamped lines",
			"POST /lrc/format":        "Serialize timestamped lines back to LRC text",
			"GET /health":             "Service health check",
			"GET /config":             "Get service configuration",
			"GET /stats":              "Get service statistics",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
