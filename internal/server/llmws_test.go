package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ncn914491/privacy-ai-assistant/internal/llm"
)

// testGenStreamServer stands up a fake model runtime that streams the given
// chunks as newline-delimited JSON, and a generation stream handler backed
// by it.
func testGenStreamServer(t *testing.T, chunks []string, status int) *httptest.Server {
	t.Helper()

	runtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, chunk := range chunks {
			enc.Encode(map[string]any{
				"model":    "gemma3n:latest",
				"response": chunk,
				"done":     false,
			})
		}
		enc.Encode(map[string]any{
			"model":    "gemma3n:latest",
			"response": "",
			"done":     true,
		})
	}))
	t.Cleanup(runtime.Close)

	client, err := llm.NewClient(llm.Config{BaseURL: runtime.URL}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	handler := NewGenStreamHandler(client, nil, testLogger(), 5*time.Second)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}

func readGenMessage(t *testing.T, conn *websocket.Conn) genStreamMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg genStreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read stream message: %v", err)
	}
	return msg
}

// collectGenChunks reads until complete or error and returns the assembled
// fragment text.
func collectGenChunks(t *testing.T, conn *websocket.Conn) (string, genStreamMessage) {
	t.Helper()

	var assembled string
	for i := 0; i < 20; i++ {
		msg := readGenMessage(t, conn)
		switch msg.Type {
		case GenChunk:
			assembled += msg.Data
		case GenComplete, GenError:
			return assembled, msg
		default:
			t.Fatalf("Unexpected message type %q", msg.Type)
		}
	}
	t.Fatal("Stream never completed")
	return "", genStreamMessage{}
}

func TestGenStreamDeliversChunks(t *testing.T) {
	server := testGenStreamServer(t, []string{"Hello", ", ", "world"}, http.StatusOK)
	conn := dialStream(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(genStreamRequest{Prompt: "greet me"}); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	assembled, last := collectGenChunks(t, conn)
	if last.Type != GenComplete {
		t.Fatalf("Expected complete, got %s: %s", last.Type, last.Data)
	}
	if assembled != "Hello, world" {
		t.Errorf("Expected assembled response, got %q", assembled)
	}

	// The connection serves further requests.
	if err := conn.WriteJSON(genStreamRequest{Prompt: "again"}); err != nil {
		t.Fatalf("Failed to send second request: %v", err)
	}
	assembled, last = collectGenChunks(t, conn)
	if last.Type != GenComplete || assembled != "Hello, world" {
		t.Errorf("Expected second response, got %s %q", last.Type, assembled)
	}
}

func TestGenStreamRejectsBadRequests(t *testing.T) {
	server := testGenStreamServer(t, []string{"ok"}, http.StatusOK)
	conn := dialStream(t, server)
	defer conn.Close()

	tests := []struct {
		name    string
		payload string
	}{
		{"empty prompt", `{"prompt":"   "}`},
		{"malformed JSON", `{prompt}`},
	}

	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
			t.Fatalf("%s: failed to send: %v", tt.name, err)
		}
		msg := readGenMessage(t, conn)
		if msg.Type != GenError {
			t.Errorf("%s: expected error message, got %s", tt.name, msg.Type)
		}
	}

	// Bad requests do not poison the connection.
	if err := conn.WriteJSON(genStreamRequest{Prompt: "real one"}); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	assembled, last := collectGenChunks(t, conn)
	if last.Type != GenComplete || assembled != "ok" {
		t.Errorf("Expected response after bad requests, got %s %q", last.Type, assembled)
	}
}

func TestGenStreamReportsRuntimeFailure(t *testing.T) {
	server := testGenStreamServer(t, nil, http.StatusInternalServerError)
	conn := dialStream(t, server)
	defer conn.Close()

	if err := conn.WriteJSON(genStreamRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	msg := readGenMessage(t, conn)
	if msg.Type != GenError {
		t.Fatalf("Expected error message, got %s", msg.Type)
	}
	if msg.Data == "" {
		t.Error("Expected error detail")
	}
}
