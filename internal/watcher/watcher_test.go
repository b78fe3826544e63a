package watcher

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarketxTrader/lyricsync/internal/transcription"
)

const testLyrics = "[00:01.0] first line\n[00:05.2] second line"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWatcher wires a watcher to an httptest transcription endpoint
// with polling intervals short enough for tests.
func newTestWatcher(t *testing.T, handler http.HandlerFunc, outputDir string) (*Watcher, string) {
	t.Helper()

	endpoint := httptest.NewServer(handler)
	t.Cleanup(endpoint.Close)

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:   endpoint.URL,
		Model:      "test-model",
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	watchDir := t.TempDir()

	watcher, err := New(Config{
		WatchDir:      watchDir,
		OutputDir:     outputDir,
		CheckInterval: 10 * time.Millisecond,
		QuietDuration: 30 * time.Millisecond,
		MaxWait:       2 * time.Second,
	}, testLogger(), client, nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	return watcher, watchDir
}

func lyricsHandler(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"parts": []map[string]string{{"text": text}},
					},
				},
			},
		})
	}
}

// waitForFile polls until the file exists or the deadline passes.
func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("File %s was not created within %v", path, timeout)
	return nil
}

func TestWatcherPicksUpExistingFile(t *testing.T) {
	watcher, watchDir := newTestWatcher(t, lyricsHandler(testLyrics), "")

	audioPath := filepath.Join(watchDir, "song.mp3")
	if err := os.WriteFile(audioPath, []byte("fake audio data"), 0644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	data := waitForFile(t, filepath.Join(watchDir, "song.lrc"), 5*time.Second)
	if string(data) != testLyrics {
		t.Errorf("LRC content = %q, want %q", string(data), testLyrics)
	}
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	watcher, watchDir := newTestWatcher(t, lyricsHandler(testLyrics), "")

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	audioPath := filepath.Join(watchDir, "dropped.wav")
	if err := os.WriteFile(audioPath, []byte("fake audio data"), 0644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}

	waitForFile(t, filepath.Join(watchDir, "dropped.lrc"), 5*time.Second)
}

func TestWatcherWritesToOutputDir(t *testing.T) {
	outputDir := t.TempDir()
	watcher, watchDir := newTestWatcher(t, lyricsHandler(testLyrics), outputDir)

	audioPath := filepath.Join(watchDir, "album-track.flac")
	if err := os.WriteFile(audioPath, []byte("fake audio data"), 0644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	waitForFile(t, filepath.Join(outputDir, "album-track.lrc"), 5*time.Second)

	if _, err := os.Stat(filepath.Join(watchDir, "album-track.lrc")); !os.IsNotExist(err) {
		t.Error("LRC file should not be written into the watch directory when an output directory is set")
	}
}

func TestWatcherIgnoresNonAudioFiles(t *testing.T) {
	requested := make(chan struct{}, 1)
	watcher, watchDir := newTestWatcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case requested <- struct{}{}:
		default:
		}
		lyricsHandler(testLyrics)(w, r)
	}, "")

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(filepath.Join(watchDir, "notes.txt"), []byte("not audio"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case <-requested:
		t.Error("Non-audio file should not trigger a transcription request")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherHandlesTranscriptionFailure(t *testing.T) {
	watcher, watchDir := newTestWatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 400, "message": "bad audio", "status": "INVALID_ARGUMENT"}}`))
	}, "")

	audioPath := filepath.Join(watchDir, "broken.ogg")
	if err := os.WriteFile(audioPath, []byte("fake audio data"), 0644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	// Stop waits for the in-flight processing goroutine, so after it
	// returns the failure path has fully run.
	time.Sleep(200 * time.Millisecond)
	watcher.Stop()

	if _, err := os.Stat(filepath.Join(watchDir, "broken.lrc")); !os.IsNotExist(err) {
		t.Error("No LRC file should be written when transcription fails")
	}
}

func TestWatcherRequiresWatchDir(t *testing.T) {
	_, err := New(Config{}, testLogger(), nil, nil)
	if err == nil {
		t.Fatal("Expected error for empty watch directory")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name      string
		outputDir string
		audioPath string
		expected  string
	}{
		{
			name:      "beside audio file",
			outputDir: "",
			audioPath: filepath.Join("music", "song.mp3"),
			expected:  filepath.Join("music", "song.lrc"),
		},
		{
			name:      "into output directory",
			outputDir: "out",
			audioPath: filepath.Join("music", "song.m4a"),
			expected:  filepath.Join("out", "song.lrc"),
		},
		{
			name:      "dotted file name",
			outputDir: "",
			audioPath: "my.best.song.wav",
			expected:  "my.best.song.lrc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Watcher{config: Config{OutputDir: tt.outputDir}}
			if got := w.outputPath(tt.audioPath); got != tt.expected {
				t.Errorf("outputPath(%q) = %q, want %q", tt.audioPath, got, tt.expected)
			}
		})
	}
}
