package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ncn914491/privacy-ai-assistant/internal/chat"
	"github.com/Ncn914491/privacy-ai-assistant/internal/config"
	"github.com/Ncn914491/privacy-ai-assistant/internal/llm"
	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
	"github.com/Ncn914491/privacy-ai-assistant/internal/stt"
	"github.com/Ncn914491/privacy-ai-assistant/internal/tokens"
)

// HTTPServer hosts the WebSocket streaming endpoint and the REST API for
// chats, generation, monitoring, and metrics.
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	registry *stt.Registry
	engine   *stt.HTTPEngine
	chats    *chat.Store
	llm      *llm.Client
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the API server with all routes wired.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, registry *stt.Registry,
	engine *stt.HTTPEngine, chats *chat.Store, llmClient *llm.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		registry:  registry,
		engine:    engine,
		chats:     chats,
		llm:       llmClient,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.GetReadTimeoutDuration(),
		WriteTimeout: cfg.Server.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Streaming transcription endpoint. WebSocket connections are
	// long-lived; per-request timeouts do not apply, so the handler is
	// mounted without the metrics wrapper's timing.
	streamHandler := NewStreamHandler(h.registry, h.metrics, h.logger,
		h.config.Session.GetInactivityTimeoutDuration()+h.config.Session.GetHeartbeatIntervalDuration(),
		h.config.Server.GetWriteTimeoutDuration(),
		h.config.Server.MaxSessions)
	mux.Handle("/ws/stt", streamHandler)

	// Streamed generation endpoint, also a long-lived WebSocket.
	genStreamHandler := NewGenStreamHandler(h.llm, h.metrics, h.logger,
		h.config.Server.GetWriteTimeoutDuration())
	mux.Handle("/ws/llm", genStreamHandler)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Chat persistence endpoints
	mux.HandleFunc("/chats", h.withMetrics("/chats", h.handleChats))
	mux.HandleFunc("/chats/", h.withMetrics("/chats/{id}", h.handleChatDetail))

	// LLM endpoints
	mux.HandleFunc("/llm/models", h.withMetrics("/llm/models", h.handleModels))
	mux.HandleFunc("/llm/generate", h.withMetrics("/llm/generate", h.handleGenerate))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	llmStatus := "unreachable"
	if h.llm.Healthy(ctx) {
		llmStatus = "running"
	}

	decoderStats := h.engine.Stats()
	llmStats := h.llm.Stats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "privacy-ai-assistant",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"sessions": map[string]interface{}{
				"status":       "running",
				"active_count": h.registry.Count(),
			},
			"decoder": map[string]interface{}{
				"status":          "running",
				"total_requests":  decoderStats.TotalRequests,
				"success_rate":    decoderStats.SuccessRate,
				"active_requests": decoderStats.ActiveRequests,
			},
			"llm": map[string]interface{}{
				"status":         llmStatus,
				"total_requests": llmStats.TotalRequests,
				"success_rate":   llmStats.SuccessRate,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.registry.Infos()

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{connection_id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "connection ID required")
		return
	}

	session, exists := h.registry.Get(id)
	if !exists {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleChats implements the /chats collection endpoint
func (h *HTTPServer) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := h.chats.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_chats": len(summaries),
			"chats":       summaries,
		})

	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		session, err := h.chats.Create(req.Title, req.Model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, session)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChatDetail routes /chats/{id} and its sub-resources.
func (h *HTTPServer) handleChatDetail(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/chats/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "chat ID required")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleChatGet(w, id)
		case http.MethodDelete:
			h.handleChatDelete(w, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "messages":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleChatAddMessage(w, r, id)
	case "title":
		if r.Method != http.MethodPut {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleChatRename(w, r, id)
	case "context":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleChatContext(w, r, id)
	case "generate":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleChatGenerate(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPServer) handleChatGet(w http.ResponseWriter, id string) {
	session, err := h.chats.Load(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *HTTPServer) handleChatDelete(w http.ResponseWriter, id string) {
	if err := h.chats.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *HTTPServer) handleChatAddMessage(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chats.AddMessage(id, req.Role, req.Content)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *HTTPServer) handleChatRename(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chats.Rename(id, req.Title); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "title": req.Title})
}

func (h *HTTPServer) handleChatContext(w http.ResponseWriter, r *http.Request, id string) {
	model := r.URL.Query().Get("model")
	preserveRecent := h.config.Context.PreserveRecent
	if raw := r.URL.Query().Get("preserve_recent"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "preserve_recent must be a positive integer")
			return
		}
		preserveRecent = parsed
	}

	window, err := h.chats.Context(id, model, h.config.Context.SystemPrompt, preserveRecent)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.metrics.RecordContextBuild(window.DroppedCount, window.Utilization)

	writeJSON(w, http.StatusOK, window)
}

// handleChatGenerate appends a user message, assembles the context window,
// generates a reply, and stores it back into the conversation.
func (h *HTTPServer) handleChatGenerate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Content string `json:"content"`
		Model   string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	if _, err := h.chats.AddMessage(id, tokens.RoleUser, req.Content); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	window, err := h.chats.Context(id, req.Model, h.config.Context.SystemPrompt, h.config.Context.PreserveRecent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.metrics.RecordContextBuild(window.DroppedCount, window.Utilization)

	system, prompt := renderPrompt(window)

	h.metrics.RecordLLMRequest()
	startTime := time.Now()

	response, err := h.llm.Generate(r.Context(), llm.GenerateRequest{
		Model:  req.Model,
		Prompt: prompt,
		System: system,
	})
	if err != nil {
		h.metrics.RecordLLMFailure(time.Since(startTime).Seconds())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.metrics.RecordLLMSuccess(time.Since(startTime).Seconds())

	reply, err := h.chats.AddMessage(id, tokens.RoleAssistant, response.Response)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":           reply,
		"model":             response.Model,
		"total_tokens":      window.TotalTokens,
		"dropped_count":     window.DroppedCount,
		"token_utilization": window.Utilization,
	})
}

// renderPrompt flattens a context window into the runtime's system/prompt
// pair.
func renderPrompt(window tokens.Window) (system, prompt string) {
	var b strings.Builder

	for i, turn := range window.Turns {
		if i == 0 && turn.Role == tokens.RoleSystem {
			system = turn.Content
			continue
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString(tokens.RoleAssistant)
	b.WriteString(":")

	return system, b.String()
}

// handleModels implements the /llm/models endpoint
func (h *HTTPServer) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models, err := h.llm.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default_model": h.llm.DefaultModel(),
		"models":        models,
	})
}

// handleGenerate implements the one-shot /llm/generate endpoint
func (h *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		System string `json:"system"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt cannot be empty")
		return
	}

	h.metrics.RecordLLMRequest()
	startTime := time.Now()

	response, err := h.llm.Generate(r.Context(), llm.GenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
	})
	if err != nil {
		h.metrics.RecordLLMFailure(time.Since(startTime).Seconds())
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.metrics.RecordLLMSuccess(time.Since(startTime).Seconds())

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":      h.config.Server.Address,
			"port":         h.config.Server.Port,
			"max_sessions": h.config.Server.MaxSessions,
		},
		"audio": map[string]interface{}{
			"sample_rate":           h.config.Audio.SampleRate,
			"channels":              h.config.Audio.Channels,
			"bit_depth":             h.config.Audio.BitDepth,
			"frame_buffer_capacity": h.config.Audio.FrameBufferCapacity,
		},
		"session": map[string]interface{}{
			"heartbeat_interval": h.config.Session.HeartbeatInterval,
			"inactivity_timeout": h.config.Session.InactivityTimeout,
			"inactivity_policy":  h.config.Session.InactivityPolicy,
			"error_ceiling":      h.config.Session.ErrorCeiling,
		},
		"decoder": map[string]interface{}{
			"endpoint":       h.config.Decoder.Endpoint,
			"timeout":        h.config.Decoder.Timeout,
			"max_retries":    h.config.Decoder.MaxRetries,
			"max_concurrent": h.config.Decoder.MaxConcurrent,
			// Note: API key is intentionally omitted for security
		},
		"llm": map[string]interface{}{
			"base_url":      h.config.LLM.BaseURL,
			"default_model": h.config.LLM.DefaultModel,
			"timeout":       h.config.LLM.Timeout,
		},
		"context": map[string]interface{}{
			"reserve_tokens":  h.config.Context.ReserveTokens,
			"preserve_recent": h.config.Context.PreserveRecent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.registry.Count(),
		},
		"decoder": h.engine.Stats(),
		"llm":     h.llm.Stats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Privacy AI Assistant Backend",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"WS  /ws/stt":                    "Streaming transcription session",
			"WS  /ws/llm":                    "Streamed generation session",
			"GET /":                          "API documentation",
			"GET /health":                    "Service health check",
			"GET /sessions":                  "List active streaming sessions",
			"GET /sessions/{connection_id}":  "Get streaming session details",
			"GET /chats":                     "List chat sessions",
			"POST /chats":                    "Create a chat session",
			"GET /chats/{id}":                "Get a chat session with messages",
			"DELETE /chats/{id}":             "Delete a chat session",
			"POST /chats/{id}/messages":      "Append a message",
			"PUT /chats/{id}/title":          "Rename a chat session",
			"GET /chats/{id}/context":        "Preview the model context window",
			"POST /chats/{id}/generate":      "Generate an assistant reply",
			"GET /llm/models":                "List installed models",
			"POST /llm/generate":             "One-shot generation",
			"GET /config":                    "Get service configuration",
			"GET /stats":                     "Get service statistics",
			"GET /metrics":                   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
