package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ncn914491/privacy-ai-assistant/internal/audio"
)

// HTTPConfig contains decoder HTTP client configuration.
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	SampleRate    int
}

// HTTPEngine talks to a local speech decoder over HTTP. One engine is
// shared by all sessions; each session gets its own recognizer.
type HTTPEngine struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// EngineStats represents decoder client statistics.
type EngineStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type decodeResponse struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// NewHTTPEngine creates a decoder HTTP client.
func NewHTTPEngine(config HTTPConfig, logger *slog.Logger) (*HTTPEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPEngine{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
	}, nil
}

// NewRecognizer creates a recognizer bound to this engine.
func (e *HTTPEngine) NewRecognizer() (Recognizer, error) {
	return &httpRecognizer{
		engine: e,
		id:     uuid.NewString(),
	}, nil
}

// decode sends a PCM window for decoding, with retries.
func (e *HTTPEngine) decode(ctx context.Context, recognizerID string, pcm []byte, final bool) (Result, error) {
	// Acquire semaphore for rate limiting
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	startTime := time.Now()
	e.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		result, err := e.doRequest(ctx, recognizerID, pcm, final)
		if err == nil {
			e.incrementSuccessRequests()
			e.updateAvgResponseTime(time.Since(startTime))
			return result, nil
		}

		lastErr = err

		if !e.isRetryableError(err) {
			break
		}
	}

	e.incrementFailedRequests()
	return Result{}, fmt.Errorf("%w: decode failed after %d attempts: %s",
		ErrDecoderUnavailable, e.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the decoder.
func (e *HTTPEngine) doRequest(ctx context.Context, recognizerID string, pcm []byte, final bool) (Result, error) {
	body, contentType, err := e.createMultipartRequest(recognizerID, pcm, final)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.config.Endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "privacy-ai-assistant/1.0")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded decodeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return Result{
		Text:  strings.TrimSpace(decoded.Text),
		Final: decoded.Final || final,
	}, nil
}

// createMultipartRequest encodes the PCM window as a WAV form file plus
// request metadata.
func (e *HTTPEngine) createMultipartRequest(recognizerID string, pcm []byte, final bool) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	wavData, err := audio.EncodeWAV(audio.BytesToSamples(pcm), e.config.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	fileWriter, err := writer.CreateFormFile("file", recognizerID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"recognizer_id":   recognizerID,
		"sample_rate":     fmt.Sprintf("%d", e.config.SampleRate),
		"final":           fmt.Sprintf("%t", final),
		"request_id":      uuid.NewString(),
		"response_format": "json",
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is retryable.
func (e *HTTPEngine) isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors are retryable
	if strings.Contains(errStr, "HTTP error 5") {
		return true
	}

	// Rate limiting (429) is retryable
	if strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (e *HTTPEngine) incrementTotalRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
}

func (e *HTTPEngine) incrementSuccessRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successRequests++
}

func (e *HTTPEngine) incrementFailedRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedRequests++
}

func (e *HTTPEngine) incrementTotalRetries() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRetries++
}

func (e *HTTPEngine) updateAvgResponseTime(responseTime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Simple moving average
	if e.avgResponseTime == 0 {
		e.avgResponseTime = responseTime
	} else {
		e.avgResponseTime = (e.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current engine statistics.
func (e *HTTPEngine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalRequests > 0 {
		successRate = float64(e.successRequests) / float64(e.totalRequests) * 100
	}

	return EngineStats{
		TotalRequests:   e.totalRequests,
		SuccessRequests: e.successRequests,
		FailedRequests:  e.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    e.totalRetries,
		AvgResponseTime: e.avgResponseTime,
		ActiveRequests:  len(e.semaphore),
	}
}

// Close waits for all active requests to complete.
func (e *HTTPEngine) Close() error {
	for i := 0; i < e.config.MaxConcurrent; i++ {
		e.semaphore <- struct{}{}
	}
	return nil
}

// maxWindowSeconds bounds the rolling decode window so a long utterance
// cannot grow the request body without limit.
const maxWindowSeconds = 30

// decodeIntervalSeconds is how much new audio accumulates before the window
// is re-decoded for a partial result.
const decodeIntervalSeconds = 0.5

// httpRecognizer accumulates PCM for one session and re-decodes the rolling
// window as audio arrives. All methods are called from the session's worker
// goroutine.
type httpRecognizer struct {
	engine *HTTPEngine
	id     string

	window    []byte // current utterance audio
	undecoded int    // bytes appended since the last decode
	closed    bool
}

// Accept buffers the frame and, once enough new audio has accumulated,
// decodes the current window for a partial result.
func (r *httpRecognizer) Accept(ctx context.Context, frame []byte) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer %s is closed", r.id)
	}

	r.window = append(r.window, frame...)
	r.undecoded += len(frame)

	maxBytes := maxWindowSeconds * r.engine.config.SampleRate * 2
	if len(r.window) > maxBytes {
		r.window = r.window[len(r.window)-maxBytes:]
	}

	intervalBytes := int(decodeIntervalSeconds * float64(r.engine.config.SampleRate) * 2)
	if r.undecoded < intervalBytes {
		return Result{}, nil
	}
	r.undecoded = 0

	result, err := r.engine.decode(ctx, r.id, r.window, false)
	if err != nil {
		return Result{}, err
	}
	if result.Final {
		// The decoder detected an utterance boundary; start a fresh
		// window for the next one.
		r.window = r.window[:0]
	}
	return result, nil
}

// FinalResult decodes whatever audio remains in the window and resets it.
func (r *httpRecognizer) FinalResult(ctx context.Context) (Result, error) {
	if r.closed {
		return Result{}, fmt.Errorf("recognizer %s is closed", r.id)
	}
	if len(r.window) == 0 {
		return Result{Final: true}, nil
	}

	result, err := r.engine.decode(ctx, r.id, r.window, true)
	r.window = r.window[:0]
	r.undecoded = 0
	if err != nil {
		return Result{}, err
	}
	result.Final = true
	return result, nil
}

// Close releases the recognizer's buffered audio.
func (r *httpRecognizer) Close() error {
	r.closed = true
	r.window = nil
	return nil
}
