// Package transcription implements the HTTP client for the generative
// transcription endpoint. It sends audio payloads inline with a fixed
// system instruction, applies bounded exponential-backoff retry on
// rate-limit responses, and normalizes model output into raw LRC text.
package transcription
