// Package watcher ingests audio files dropped into a watched directory.
// Each new file is transcribed once it has stopped changing, and the LRC
// result is written next to it (or into a configured output directory).
package watcher
