// Package job tracks transcription jobs through an explicit
// idle/processing/ready/error lifecycle. The registry is in-memory only:
// jobs live for the duration of the process, and a bounded number of
// finished jobs is retained for inspection.
package job
