package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ncn914491/privacy-ai-assistant/internal/llm"
	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
)

// Streamed generation message types.
const (
	GenChunk    = "chunk"
	GenComplete = "complete"
	GenError    = "error"
)

// genStreamRequest is one inbound generation request on the stream.
type genStreamRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
}

// genStreamMessage is one outbound message: a completion fragment, the
// end-of-stream marker, or an error.
type genStreamMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// GenStreamHandler serves streamed generation over WebSocket. A connection
// carries any number of requests, answered one at a time; each request
// produces a sequence of chunk messages ending in complete or error.
type GenStreamHandler struct {
	llm          *llm.Client
	metrics      *metrics.Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewGenStreamHandler creates the streamed generation handler.
func NewGenStreamHandler(client *llm.Client, m *metrics.Metrics, logger *slog.Logger,
	writeTimeout time.Duration) *GenStreamHandler {

	h := &GenStreamHandler{
		llm:          client,
		metrics:      m,
		logger:       logger,
		writeTimeout: writeTimeout,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     checkLocalOrigin,
	}

	return h
}

// ServeHTTP handles one streamed generation connection for its whole
// lifetime.
func (h *GenStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("Generation stream connected",
		slog.String("remote", r.RemoteAddr),
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Generation stream read failed",
					slog.String("remote", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var req genStreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.send(conn, genStreamMessage{Type: GenError, Data: "invalid request: " + err.Error()})
			continue
		}
		if strings.TrimSpace(req.Prompt) == "" {
			h.send(conn, genStreamMessage{Type: GenError, Data: "prompt cannot be empty"})
			continue
		}

		h.stream(r, conn, req)
	}
}

// stream runs one generation request, relaying completion fragments as they
// arrive.
func (h *GenStreamHandler) stream(r *http.Request, conn *websocket.Conn, req genStreamRequest) {
	if h.metrics != nil {
		h.metrics.RecordLLMRequest()
	}
	startTime := time.Now()

	err := h.llm.GenerateStream(r.Context(), llm.GenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
	}, func(chunk llm.GenerateResponse) error {
		if chunk.Response == "" {
			return nil
		}
		return h.send(conn, genStreamMessage{Type: GenChunk, Data: chunk.Response})
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordLLMFailure(time.Since(startTime).Seconds())
		}
		h.logger.Error("Streamed generation failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		h.send(conn, genStreamMessage{Type: GenError, Data: err.Error()})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordLLMSuccess(time.Since(startTime).Seconds())
	}
	h.send(conn, genStreamMessage{Type: GenComplete})
}

func (h *GenStreamHandler) send(conn *websocket.Conn, msg genStreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(msg)
}
