// Package protocol defines the JSON messages exchanged over a streaming
// speech-to-text connection: outbound transcription/lifecycle events and
// inbound control commands.
package protocol
