package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the assistant backend
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Audio ingestion metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Streaming event metrics
	StreamEvents  *prometheus.CounterVec
	EventsDropped prometheus.Counter

	// Context window metrics
	ContextBuilds       prometheus.Counter
	ContextTurnsDropped prometheus.Counter
	ContextUtilization  prometheus.Histogram

	// LLM metrics
	LLMRequests  prometheus.Counter
	LLMSuccesses prometheus.Counter
	LLMFailures  prometheus.Counter
	LLMDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "assistant_active_sessions",
			Help: "Current number of active streaming sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_sessions_created_total",
			Help: "Total number of streaming sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_sessions_destroyed_total",
			Help: "Total number of streaming sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_session_duration_seconds",
			Help:    "Duration of streaming sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Audio ingestion metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_audio_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_audio_frames_dropped_total",
			Help: "Total number of audio frames dropped from full buffers",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_decode_errors_total",
			Help: "Total number of speech decoding errors",
		}),

		// Streaming event metrics
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_stream_events_total",
			Help: "Total number of outbound streaming events by type",
		}, []string{"type"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_stream_events_dropped_total",
			Help: "Total number of outbound events dropped from full buffers",
		}),

		// Context window metrics
		ContextBuilds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_context_builds_total",
			Help: "Total number of context windows built",
		}),
		ContextTurnsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_context_turns_dropped_total",
			Help: "Total number of conversation turns dropped from context windows",
		}),
		ContextUtilization: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_context_utilization_percent",
			Help:    "Token utilization of built context windows",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0% to 100%
		}),

		// LLM metrics
		LLMRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_llm_requests_total",
			Help: "Total number of LLM generation requests sent",
		}),
		LLMSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_llm_successes_total",
			Help: "Total number of successful LLM generation requests",
		}),
		LLMFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "assistant_llm_failures_total",
			Help: "Total number of failed LLM generation requests",
		}),
		LLMDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_llm_request_duration_seconds",
			Help:    "Duration of LLM generation requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordStreamEvent records one outbound event by type
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordContextBuild records a built context window
func (m *Metrics) RecordContextBuild(droppedTurns int, utilization float64) {
	m.ContextBuilds.Inc()
	m.ContextTurnsDropped.Add(float64(droppedTurns))
	m.ContextUtilization.Observe(utilization)
}

// RecordLLMRequest increments the LLM requests counter
func (m *Metrics) RecordLLMRequest() {
	m.LLMRequests.Inc()
}

// RecordLLMSuccess records a successful LLM request
func (m *Metrics) RecordLLMSuccess(durationSeconds float64) {
	m.LLMSuccesses.Inc()
	m.LLMDuration.Observe(durationSeconds)
}

// RecordLLMFailure records a failed LLM request
func (m *Metrics) RecordLLMFailure(durationSeconds float64) {
	m.LLMFailures.Inc()
	m.LLMDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
