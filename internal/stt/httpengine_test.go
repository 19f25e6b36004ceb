package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ncn914491/privacy-ai-assistant/internal/audio"
)

// fakeDecoderServer answers decode requests like the local decoder sidecar.
func fakeDecoderServer(t *testing.T, text string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		if r.FormValue("recognizer_id") == "" {
			t.Error("Expected recognizer_id field")
		}
		if r.FormValue("sample_rate") != "16000" {
			t.Errorf("Expected sample_rate 16000, got %s", r.FormValue("sample_rate"))
		}

		// The uploaded file must be a decodable WAV.
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Expected audio file: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		wavData, err := io.ReadAll(file)
		if err != nil {
			t.Errorf("Failed to read audio file: %v", err)
		}
		if _, _, err := audio.DecodeWAV(wavData); err != nil {
			t.Errorf("Uploaded audio is not valid WAV: %v", err)
		}

		final, _ := strconv.ParseBool(r.FormValue("final"))
		json.NewEncoder(w).Encode(map[string]any{
			"text":  text,
			"final": final,
		})
	}))
}

func testEngine(t *testing.T, endpoint string, maxRetries int) *HTTPEngine {
	t.Helper()

	engine, err := NewHTTPEngine(HTTPConfig{
		Endpoint:      endpoint,
		Timeout:       5 * time.Second,
		MaxRetries:    maxRetries,
		MaxConcurrent: 4,
		SampleRate:    16000,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}
	return engine
}

func TestNewHTTPEngineValidation(t *testing.T) {
	if _, err := NewHTTPEngine(HTTPConfig{}, testLogger()); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

// halfSecondOfAudio is one decode interval of PCM-16 at 16 kHz.
func halfSecondOfAudio() []byte {
	return make([]byte, 16000) // 8000 samples
}

func TestRecognizerDecodesAfterInterval(t *testing.T) {
	server := fakeDecoderServer(t, "hello world")
	defer server.Close()

	engine := testEngine(t, server.URL, 0)
	rec, err := engine.NewRecognizer()
	if err != nil {
		t.Fatalf("NewRecognizer failed: %v", err)
	}
	defer rec.Close()

	// Less than half a second buffered: no decode yet.
	result, err := rec.Accept(context.Background(), make([]byte, 4000))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if result.Text != "" {
		t.Errorf("Expected no result before the decode interval, got %q", result.Text)
	}

	// Crossing the interval triggers a decode.
	result, err = rec.Accept(context.Background(), halfSecondOfAudio())
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("Expected decoded text, got %q", result.Text)
	}

	stats := engine.Stats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRecognizerFinalResult(t *testing.T) {
	server := fakeDecoderServer(t, "closing words")
	defer server.Close()

	engine := testEngine(t, server.URL, 0)
	rec, _ := engine.NewRecognizer()
	defer rec.Close()

	// Buffer a bit of audio without crossing the interval.
	rec.Accept(context.Background(), make([]byte, 4000))

	result, err := rec.FinalResult(context.Background())
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	if !result.Final {
		t.Error("Expected a final result")
	}
	if result.Text != "closing words" {
		t.Errorf("Expected decoded text, got %q", result.Text)
	}

	// The window resets; a second final on an empty window skips the decoder.
	result, err = rec.FinalResult(context.Background())
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	if !result.Final || result.Text != "" {
		t.Errorf("Expected empty final result, got %+v", result)
	}
	if engine.Stats().TotalRequests != 1 {
		t.Errorf("Expected 1 decode request, got %d", engine.Stats().TotalRequests)
	}
}

func TestRecognizerClosed(t *testing.T) {
	server := fakeDecoderServer(t, "unused")
	defer server.Close()

	engine := testEngine(t, server.URL, 0)
	rec, _ := engine.NewRecognizer()
	rec.Close()

	if _, err := rec.Accept(context.Background(), halfSecondOfAudio()); err == nil {
		t.Error("Expected error from a closed recognizer")
	}
	if _, err := rec.FinalResult(context.Background()); err == nil {
		t.Error("Expected error from a closed recognizer")
	}
}

func TestDecodeRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "decoder busy", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "recovered", "final": false})
	}))
	defer server.Close()

	engine := testEngine(t, server.URL, 2)
	rec, _ := engine.NewRecognizer()
	defer rec.Close()

	result, err := rec.Accept(context.Background(), halfSecondOfAudio())
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("Expected recovered text, got %q", result.Text)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	if engine.Stats().TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", engine.Stats().TotalRetries)
	}
}

func TestDecodeFailureWrapsSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	engine := testEngine(t, server.URL, 0)
	rec, _ := engine.NewRecognizer()
	defer rec.Close()

	_, err := rec.Accept(context.Background(), halfSecondOfAudio())
	if err == nil {
		t.Fatal("Expected decode error")
	}
	if !errors.Is(err, ErrDecoderUnavailable) {
		t.Errorf("Expected ErrDecoderUnavailable, got: %v", err)
	}
	if engine.Stats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", engine.Stats().FailedRequests)
	}
}
