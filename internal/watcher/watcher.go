package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MarketxTrader/lyricsync/internal/lrc"
	"github.com/MarketxTrader/lyricsync/internal/metrics"
	"github.com/MarketxTrader/lyricsync/internal/transcription"
)

// Config contains watcher configuration.
type Config struct {
	WatchDir      string
	OutputDir     string // empty writes the .lrc beside the audio file
	CheckInterval time.Duration
	QuietDuration time.Duration
	MaxWait       time.Duration
}

// Watcher monitors a directory for new audio files and transcribes each
// one to a sibling .lrc file. Files are only picked up once they have been
// stable (no size/mtime change) for the configured quiet period, so
// partially copied downloads are not transcribed mid-write.
type Watcher struct {
	config  Config
	logger  *slog.Logger
	client  *transcription.Client
	metrics *metrics.Metrics

	fsWatcher *fsnotify.Watcher

	// pending guards against scheduling the same file twice while its
	// stability wait is still running.
	pending map[string]struct{}
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for the configured directory. metrics may be nil.
func New(config Config, logger *slog.Logger, client *transcription.Client, m *metrics.Metrics) (*Watcher, error) {
	if config.WatchDir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}

	if err := os.MkdirAll(config.WatchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory %s: %w", config.WatchDir, err)
	}

	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", config.OutputDir, err)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fsWatcher.Add(config.WatchDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", config.WatchDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		config:    config,
		logger:    logger,
		client:    client,
		metrics:   m,
		fsWatcher: fsWatcher,
		pending:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins watching. Files already present in the directory are picked
// up as well, so a restart does not strand earlier drops.
func (w *Watcher) Start() error {
	w.logger.Info("Starting directory watcher",
		slog.String("watch_dir", w.config.WatchDir),
		slog.Duration("quiet_duration", w.config.QuietDuration),
	)

	entries, err := os.ReadDir(w.config.WatchDir)
	if err != nil {
		return fmt.Errorf("failed to list watch directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.schedule(filepath.Join(w.config.WatchDir, entry.Name()))
		}
	}

	w.wg.Add(1)
	go w.eventLoop()

	return nil
}

// Stop stops the watcher and waits for in-flight file processing.
func (w *Watcher) Stop() {
	w.logger.Info("Stopping directory watcher...")
	w.cancel()
	w.fsWatcher.Close()
	w.wg.Wait()
}

// eventLoop dispatches fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", slog.String("error", err.Error()))

		case <-w.ctx.Done():
			return
		}
	}
}

// schedule queues a file for stability-checked processing if it looks like
// audio and is not already pending.
func (w *Watcher) schedule(path string) {
	if _, ok := transcription.MimeTypeForFile(path); !ok {
		return
	}

	w.mu.Lock()
	if _, exists := w.pending[path]; exists {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.RecordFileDetected()
	}

	w.logger.Info("Audio file detected", slog.String("path", path))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()

		if err := w.waitForStable(path); err != nil {
			w.logger.Warn("Skipping unstable file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}

		if err := w.process(path); err != nil {
			if w.metrics != nil {
				w.metrics.RecordFileFailed()
			}
			w.logger.Error("Failed to transcribe file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// waitForStable polls the file until its size and mtime have been
// unchanged for the quiet duration, giving up after the max wait.
func (w *Watcher) waitForStable(path string) error {
	deadline := time.Now().Add(w.config.MaxWait)

	var lastSize int64 = -1
	var lastMod time.Time
	stableSince := time.Now()

	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("file disappeared: %w", err)
		}

		if info.Size() != lastSize || !info.ModTime().Equal(lastMod) {
			lastSize = info.Size()
			lastMod = info.ModTime()
			stableSince = time.Now()
		} else if time.Since(stableSince) >= w.config.QuietDuration {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("file did not stabilize within %v", w.config.MaxWait)
		}

		select {
		case <-time.After(w.config.CheckInterval):
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	}
}

// process transcribes one audio file and writes the .lrc result.
func (w *Watcher) process(path string) error {
	mimeType, _ := transcription.MimeTypeForFile(path)

	audioData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	if len(audioData) == 0 {
		return fmt.Errorf("audio file is empty")
	}

	w.logger.Info("Transcribing file",
		slog.String("path", path),
		slog.String("mime_type", mimeType),
		slog.Int("audio_bytes", len(audioData)),
	)

	startTime := time.Now()
	if w.metrics != nil {
		w.metrics.RecordTranscriptionRequest()
	}

	text, err := w.client.Transcribe(w.ctx, &transcription.Request{
		AudioData: audioData,
		MimeType:  mimeType,
	})

	elapsed := time.Since(startTime)
	if err != nil {
		if w.metrics != nil {
			w.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		return fmt.Errorf("transcription failed: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}

	doc := lrc.Parse(text)

	outPath := w.outputPath(path)
	if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write LRC file: %w", err)
	}

	if w.metrics != nil {
		w.metrics.RecordFileTranscribed()
	}

	w.logger.Info("LRC file written",
		slog.String("path", outPath),
		slog.Int("line_count", len(doc.Lines)),
		slog.Float64("duration_seconds", doc.Duration()),
		slog.Duration("elapsed", elapsed),
	)

	return nil
}

// outputPath derives the .lrc path for an audio file.
func (w *Watcher) outputPath(audioPath string) string {
	base := filepath.Base(audioPath)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".lrc"

	if w.config.OutputDir != "" {
		return filepath.Join(w.config.OutputDir, name)
	}
	return filepath.Join(filepath.Dir(audioPath), name)
}
