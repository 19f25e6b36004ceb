package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		BaseURL:       baseURL,
		DefaultModel:  "gemma3n:latest",
		Timeout:       5 * time.Second,
		MaxRetries:    0,
		MaxConcurrent: 4,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}, testLogger()); err == nil {
		t.Error("Expected error for empty base URL")
	}

	client, err := NewClient(Config{BaseURL: "http://localhost:11434/"}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.config.BaseURL != "http://localhost:11434" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.config.BaseURL)
	}
	if client.DefaultModel() != "gemma3n:latest" {
		t.Errorf("Expected default model fallback, got %s", client.DefaultModel())
	}
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}
		if req.Model != "gemma3n:latest" {
			t.Errorf("Expected default model, got %s", req.Model)
		}

		json.NewEncoder(w).Encode(GenerateResponse{
			Model:    req.Model,
			Response: "the lights are on",
			Done:     true,
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	resp, err := client.Generate(context.Background(), GenerateRequest{
		Prompt: "turn on the lights",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Response != "the lights are on" {
		t.Errorf("Unexpected response: %s", resp.Response)
	}

	stats := client.Stats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(GenerateResponse{Response: "recovered", Done: true})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:       server.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 4,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	resp, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Response != "recovered" {
		t.Errorf("Unexpected response: %s", resp.Response)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	if client.Stats().TotalRetries != 1 {
		t.Errorf("Expected 1 retry recorded, got %d", client.Stats().TotalRetries)
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "no such model", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:       server.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		MaxConcurrent: 4,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"}); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected a single attempt for a client error, got %d", got)
	}
	if client.Stats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", client.Stats().FailedRequests)
	}
}

func TestGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Expected streaming request")
		}

		chunks := []GenerateResponse{
			{Response: "the "},
			{Response: "lights "},
			{Response: "are on", Done: true},
		}
		enc := json.NewEncoder(w)
		for _, chunk := range chunks {
			enc.Encode(chunk)
		}
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	var assembled string
	var chunks int
	err := client.GenerateStream(context.Background(), GenerateRequest{Prompt: "hi"}, func(chunk GenerateResponse) error {
		assembled += chunk.Response
		chunks++
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	if chunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", chunks)
	}
	if assembled != "the lights are on" {
		t.Errorf("Unexpected assembled response: %q", assembled)
	}
}

func TestGenerateStreamCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(GenerateResponse{Response: "chunk"})
		enc.Encode(GenerateResponse{Response: "never seen", Done: true})
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	wantErr := fmt.Errorf("client went away")
	err := client.GenerateStream(context.Background(), GenerateRequest{Prompt: "hi"}, func(chunk GenerateResponse) error {
		return wantErr
	})
	if err == nil {
		t.Fatal("Expected callback error to propagate")
	}
}

func TestModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(tagsResponse{
			Models: []ModelInfo{
				{Name: "gemma3n:latest", Size: 4_000_000_000},
				{Name: "tinyllama:1.1b", Size: 700_000_000},
			},
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)

	models, err := client.Models(context.Background())
	if err != nil {
		t.Fatalf("Models failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[0].Name != "gemma3n:latest" {
		t.Errorf("Unexpected model: %s", models[0].Name)
	}
}

func TestHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	if !client.Healthy(context.Background()) {
		t.Error("Expected healthy runtime")
	}

	down := testClient(t, "http://127.0.0.1:1")
	if down.Healthy(context.Background()) {
		t.Error("Expected unreachable runtime to be unhealthy")
	}
}

func TestClose(t *testing.T) {
	client := testClient(t, "http://localhost:11434")
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
