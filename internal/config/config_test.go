package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Transcription: TranscriptionConfig{
			Endpoint:        "https://generativelanguage.googleapis.com",
			Model:           "gemini-1.5-flash",
			APIKey:          "test-key",
			Timeout:         120,
			MaxRetries:      5,
			Temperature:     0.3,
			MaxOutputTokens: 8192,
		},
		Watcher: WatcherConfig{
			Enabled:       true,
			WatchDir:      "/tmp/drop",
			CheckInterval: 2,
			QuietDuration: 5,
			MaxWait:       600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid http port",
			mutate: func(c *Config) {
				c.HTTP.Port = 70000
			},
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "http disabled skips port check",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name: "missing api key",
			mutate: func(c *Config) {
				c.Transcription.APIKey = ""
			},
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name: "missing model",
			mutate: func(c *Config) {
				c.Transcription.Model = ""
			},
			expectError: true,
			errorMsg:    "model cannot be empty",
		},
		{
			name: "zero max retries",
			mutate: func(c *Config) {
				c.Transcription.MaxRetries = 0
			},
			expectError: true,
			errorMsg:    "max_retries must be at least 1",
		},
		{
			name: "temperature out of range",
			mutate: func(c *Config) {
				c.Transcription.Temperature = 3.0
			},
			expectError: true,
			errorMsg:    "temperature must be between 0 and 2",
		},
		{
			name: "watcher enabled without directory",
			mutate: func(c *Config) {
				c.Watcher.WatchDir = ""
			},
			expectError: true,
			errorMsg:    "watch_dir cannot be empty",
		},
		{
			name: "watcher disabled skips directory check",
			mutate: func(c *Config) {
				c.Watcher.Enabled = false
				c.Watcher.WatchDir = ""
			},
			expectError: false,
		},
		{
			name: "max wait not beyond quiet duration",
			mutate: func(c *Config) {
				c.Watcher.QuietDuration = 10
				c.Watcher.MaxWait = 5
			},
			expectError: true,
			errorMsg:    "max_wait",
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "trace"
			},
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name: "invalid log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 8080
  address: "0.0.0.0"
  enabled: true
transcription:
  api_key: "file-key"
logging:
  level: "info"
  format: "json"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key fails validation",
			configYAML: `
http:
  enabled: false
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Keep ambient keys from masking the missing-key case.
			t.Setenv("LYRICSYNC_API_KEY", "")
			t.Setenv("GEMINI_API_KEY", "")

			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configYAML := `
transcription:
  api_key: "k"
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Transcription.Endpoint != "https://generativelanguage.googleapis.com" {
		t.Errorf("Expected default endpoint, got %q", config.Transcription.Endpoint)
	}
	if config.Transcription.Model != "gemini-1.5-flash" {
		t.Errorf("Expected default model, got %q", config.Transcription.Model)
	}
	if config.Transcription.MaxRetries != 5 {
		t.Errorf("Expected default max_retries 5, got %d", config.Transcription.MaxRetries)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "text" {
		t.Errorf("Expected default logging config, got %+v", config.Logging)
	}
}

func TestConfigLoadEnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configYAML := `
transcription:
  api_key: "file-key"
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	t.Setenv("LYRICSYNC_API_KEY", "env-key")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Transcription.APIKey != "env-key" {
		t.Errorf("Expected environment to override api_key, got %q", config.Transcription.APIKey)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	watcher := WatcherConfig{
		CheckInterval: 1.5,
		QuietDuration: 5,
		MaxWait:       600,
	}

	if watcher.GetCheckInterval() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", watcher.GetCheckInterval())
	}
	if watcher.GetQuietDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", watcher.GetQuietDuration())
	}
	if watcher.GetMaxWait() != 10*time.Minute {
		t.Errorf("Expected 10 minutes, got %v", watcher.GetMaxWait())
	}
}
