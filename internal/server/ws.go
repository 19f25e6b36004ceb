package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
	"github.com/Ncn914491/privacy-ai-assistant/internal/protocol"
	"github.com/Ncn914491/privacy-ai-assistant/internal/stt"
)

// maxFrameBytes bounds a single inbound WebSocket message. One second of
// PCM-16 mono at 16 kHz is 32 KB; anything far beyond that is a protocol
// violation.
const maxFrameBytes = 256 * 1024

// StreamHandler upgrades WebSocket connections and bridges them to
// streaming transcription sessions.
type StreamHandler struct {
	registry     *stt.Registry
	metrics      *metrics.Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
	readTimeout  time.Duration
	maxSessions  int
	upgrader     websocket.Upgrader
}

// NewStreamHandler creates the WebSocket streaming handler.
func NewStreamHandler(registry *stt.Registry, m *metrics.Metrics, logger *slog.Logger,
	readTimeout, writeTimeout time.Duration, maxSessions int) *StreamHandler {

	h := &StreamHandler{
		registry:     registry,
		metrics:      m,
		logger:       logger,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		maxSessions:  maxSessions,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     checkLocalOrigin,
	}

	return h
}

// checkLocalOrigin admits only local clients: the desktop shell and
// localhost tooling. The backend never serves remote browsers.
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if strings.HasPrefix(u.Scheme, "tauri") {
		return true
	}

	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ServeHTTP handles one streaming connection for its whole lifetime.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.registry.Count() >= h.maxSessions {
		h.logger.Warn("Rejecting stream, session limit reached",
			slog.Int("max_sessions", h.maxSessions),
		)
		http.Error(w, "Too many active sessions", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// The session outlives the request context; the registry owns its
	// lifecycle.
	session, err := h.registry.Open(context.Background())
	if err != nil {
		h.logger.Error("Failed to open session",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "decoder unavailable"),
			time.Now().Add(h.writeTimeout))
		return
	}
	defer h.registry.Close(session.ID)

	h.logger.Info("Stream connected",
		slog.String("connection_id", session.ID),
		slog.String("remote", r.RemoteAddr),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, session)
	}()

	h.readLoop(conn, session)

	// Closing the session closes its event channel, which ends the
	// writer.
	h.registry.Close(session.ID)
	<-writerDone

	h.logger.Info("Stream disconnected",
		slog.String("connection_id", session.ID),
		slog.String("remote", r.RemoteAddr),
	)
}

// writeLoop drains session events onto the WebSocket.
func (h *StreamHandler) writeLoop(conn *websocket.Conn, session *stt.Session) {
	for event := range session.Events() {
		data, err := event.Marshal()
		if err != nil {
			h.logger.Error("Failed to encode event",
				slog.String("connection_id", session.ID),
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()),
			)
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			session.RecordSendFailure(err)
			continue
		}

		if h.metrics != nil {
			h.metrics.RecordStreamEvent(event.Type)
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(h.writeTimeout))
	conn.Close()
}

// readLoop consumes inbound frames until the client stops, errs, or goes
// quiet past the read deadline.
func (h *StreamHandler) readLoop(conn *websocket.Conn, session *stt.Session) {
	conn.SetReadLimit(maxFrameBytes)

	for {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Stream read failed",
					slog.String("connection_id", session.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := session.SubmitAudio(data); err != nil {
				// The session has left the Connected state; the writer
				// owns the close handshake. Drop the frame.
				h.logger.Debug("Dropping audio frame",
					slog.String("connection_id", session.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if h.metrics != nil {
				h.metrics.RecordFrameReceived()
			}

		case websocket.TextMessage:
			ctrl, err := protocol.ParseControl(data)
			if err != nil {
				h.logger.Warn("Malformed control message",
					slog.String("connection_id", session.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			session.SubmitControl(ctrl)

			if ctrl.Action == protocol.ActionStop {
				return
			}
		}
	}
}
