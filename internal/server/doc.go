// Package server exposes the backend over HTTP: the WebSocket endpoint for
// streaming transcription sessions plus the REST API for chats, generation,
// monitoring, and metrics.
package server
