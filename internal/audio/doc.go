// Package audio provides the bounded per-session frame queue feeding the
// recognition worker, a capped debug capture of raw microphone audio, and
// WAV encoding for flushing that capture to disk.
package audio
