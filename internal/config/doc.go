// Package config provides configuration loading and validation for the
// lyricsync service. It handles YAML-based configuration with struct
// validation and environment overrides for secrets.
package config
