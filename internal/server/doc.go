// Package server provides the HTTP API for the lyricsync service:
// audio upload and job tracking, LRC parse/format endpoints for editor
// previews, and monitoring endpoints including Prometheus metrics.
package server
