package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarketxTrader/lyricsync/internal/config"
	"github.com/MarketxTrader/lyricsync/internal/job"
	"github.com/MarketxTrader/lyricsync/internal/lrc"
	"github.com/MarketxTrader/lyricsync/internal/metrics"
	"github.com/MarketxTrader/lyricsync/internal/server"
	"github.com/MarketxTrader/lyricsync/internal/transcription"
	"github.com/MarketxTrader/lyricsync/internal/watcher"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "lyricsync"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	audioFile := flag.String("file", "", "Transcribe a single audio file and exit")
	outputPath := flag.String("output", "", "Output path for -file mode (defaults to <file>.lrc)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Create transcription client
	client, err := transcription.NewClient(transcription.Config{
		Endpoint:        cfg.Transcription.Endpoint,
		Model:           cfg.Transcription.Model,
		APIKey:          cfg.Transcription.APIKey,
		Timeout:         cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:      cfg.Transcription.MaxRetries,
		Temperature:     cfg.Transcription.Temperature,
		MaxOutputTokens: cfg.Transcription.MaxOutputTokens,
	}, appMetrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create transcription client: %v\n", err)
		os.Exit(1)
	}

	// One-shot mode bypasses the server entirely
	if *audioFile != "" {
		if err := transcribeFile(logger, client, *audioFile, *outputPath); err != nil {
			logger.Error("Transcription failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.Int("max_retries", cfg.Transcription.MaxRetries),
		slog.Bool("watcher_enabled", cfg.Watcher.Enabled),
		slog.String("watch_dir", cfg.Watcher.WatchDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	if !cfg.HTTP.Enabled && !cfg.Watcher.Enabled {
		fmt.Fprintln(os.Stderr, "Nothing to do: enable the HTTP server or the watcher, or pass -file")
		os.Exit(1)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job manager
	jobManager := job.NewManager(logger, client, appMetrics)
	logger.Info("Job manager initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, cfg, jobManager, client, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Initialize directory watcher (if enabled)
	var dirWatcher *watcher.Watcher
	if cfg.Watcher.Enabled {
		dirWatcher, err = watcher.New(watcher.Config{
			WatchDir:      cfg.Watcher.WatchDir,
			OutputDir:     cfg.Watcher.OutputDir,
			CheckInterval: cfg.Watcher.GetCheckInterval(),
			QuietDuration: cfg.Watcher.GetQuietDuration(),
			MaxWait:       cfg.Watcher.GetMaxWait(),
		}, logger, client, appMetrics)
		if err != nil {
			logger.Error("Failed to create watcher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Directory watcher initialized",
			slog.String("watch_dir", cfg.Watcher.WatchDir),
		)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Start watcher (if enabled)
	if dirWatcher != nil {
		if err := dirWatcher.Start(); err != nil {
			logger.Error("Failed to start watcher", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop watcher (stop picking up new files, wait for in-flight ones)
	if dirWatcher != nil {
		dirWatcher.Stop()
	}

	// Wait for in-flight jobs to settle
	jobManager.Stop()

	// Get final statistics
	jobStats := jobManager.GetStats()
	clientStats := client.GetStats()
	logger.Info("Final service statistics",
		slog.Int("total_jobs", jobStats.TotalJobs),
		slog.Int("ready_jobs", jobStats.ReadyJobs),
		slog.Int("error_jobs", jobStats.ErrorJobs),
		slog.Int("cancelled_jobs", jobStats.CancelledJobs),
		slog.Uint64("transcription_requests", clientStats.TotalRequests),
		slog.Uint64("transcription_retries", clientStats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// transcribeFile implements -file mode: transcribe one audio file to LRC
// and write the result next to it (or to the -output path).
func transcribeFile(logger *slog.Logger, client *transcription.Client, path, outputPath string) error {
	mimeType, ok := transcription.MimeTypeForFile(path)
	if !ok {
		return fmt.Errorf("unsupported audio file extension: %s", filepath.Ext(path))
	}

	audioData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	logger.Info("Transcribing file",
		slog.String("path", path),
		slog.String("mime_type", mimeType),
		slog.Int("audio_bytes", len(audioData)),
	)

	// Interrupt cancels the request, including any backoff sleep.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	text, err := client.Transcribe(ctx, &transcription.Request{
		AudioData: audioData,
		MimeType:  mimeType,
	})
	if err != nil {
		return err
	}

	doc := lrc.Parse(text)

	if outputPath == "" {
		outputPath = strings.TrimSuffix(path, filepath.Ext(path)) + ".lrc"
	}
	if err := os.WriteFile(outputPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write LRC file: %w", err)
	}

	logger.Info("LRC file written",
		slog.String("path", outputPath),
		slog.Int("line_count", len(doc.Lines)),
		slog.Float64("duration_seconds", doc.Duration()),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
