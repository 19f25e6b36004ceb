// Package stt manages streaming speech-to-text sessions: per-connection
// audio ingestion, background decoding, heartbeats, error escalation, and
// the registry that tracks every live session.
package stt
