// Package lrc implements the LRC lyric text codec.
// It parses raw LRC text into an ordered sequence of timestamped lines and
// serializes that sequence back to text, preserving the original timestamp
// tags verbatim for a lossless round trip.
package lrc
