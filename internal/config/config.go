package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Watcher       WatcherConfig       `yaml:"watcher"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// TranscriptionConfig contains transcription endpoint configuration
type TranscriptionConfig struct {
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	Timeout         int     `yaml:"timeout"` // seconds
	MaxRetries      int     `yaml:"max_retries"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// WatcherConfig contains drop-directory watcher configuration
type WatcherConfig struct {
	Enabled       bool    `yaml:"enabled"`
	WatchDir      string  `yaml:"watch_dir"`
	OutputDir     string  `yaml:"output_dir"`     // empty means beside the audio file
	CheckInterval float64 `yaml:"check_interval"` // seconds between stability polls
	QuietDuration float64 `yaml:"quiet_duration"` // seconds a file must stay unchanged
	MaxWait       float64 `yaml:"max_wait"`       // seconds before giving up on a file
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. A .env file in the working
// directory is loaded first, and LYRICSYNC_API_KEY or GEMINI_API_KEY in the
// environment override the api_key from the file, so the secret never has
// to live in the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Transcription.Endpoint == "" {
		c.Transcription.Endpoint = "https://generativelanguage.googleapis.com"
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "gemini-1.5-flash"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 120
	}
	if c.Transcription.MaxRetries == 0 {
		c.Transcription.MaxRetries = 5
	}
	if c.Transcription.MaxOutputTokens == 0 {
		c.Transcription.MaxOutputTokens = 8192
	}
	if c.Watcher.CheckInterval == 0 {
		c.Watcher.CheckInterval = 2
	}
	if c.Watcher.QuietDuration == 0 {
		c.Watcher.QuietDuration = 5
	}
	if c.Watcher.MaxWait == 0 {
		c.Watcher.MaxWait = 600
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// applyEnvOverrides lets the environment supply secrets.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("LYRICSYNC_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Watcher.Validate(); err != nil {
		return fmt.Errorf("watcher config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the config file or via LYRICSYNC_API_KEY/GEMINI_API_KEY)")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", t.MaxRetries)
	}

	if t.Temperature < 0 || t.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", t.Temperature)
	}

	if t.MaxOutputTokens < 1 {
		return fmt.Errorf("max_output_tokens must be at least 1, got %d", t.MaxOutputTokens)
	}

	return nil
}

// Validate validates watcher configuration
func (w *WatcherConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.WatchDir == "" {
		return fmt.Errorf("watch_dir cannot be empty when the watcher is enabled")
	}

	if w.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %f", w.CheckInterval)
	}

	if w.QuietDuration <= 0 {
		return fmt.Errorf("quiet_duration must be positive, got %f", w.QuietDuration)
	}

	if w.MaxWait <= w.QuietDuration {
		return fmt.Errorf("max_wait (%f) must be greater than quiet_duration (%f)", w.MaxWait, w.QuietDuration)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetCheckInterval returns the stability poll interval as a time.Duration
func (w *WatcherConfig) GetCheckInterval() time.Duration {
	return time.Duration(w.CheckInterval * float64(time.Second))
}

// GetQuietDuration returns the required quiet period as a time.Duration
func (w *WatcherConfig) GetQuietDuration() time.Duration {
	return time.Duration(w.QuietDuration * float64(time.Second))
}

// GetMaxWait returns the stability wait bound as a time.Duration
func (w *WatcherConfig) GetMaxWait() time.Duration {
	return time.Duration(w.MaxWait * float64(time.Second))
}
