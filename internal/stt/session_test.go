package stt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Ncn914491/privacy-ai-assistant/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRecognizer drives sessions in tests without a decoder backend.
type fakeRecognizer struct {
	mu       sync.Mutex
	acceptFn func(frame []byte) (Result, error)
	finalFn  func() (Result, error)
	accepted int
	closed   bool
}

func (f *fakeRecognizer) Accept(_ context.Context, frame []byte) (Result, error) {
	f.mu.Lock()
	f.accepted++
	fn := f.acceptFn
	f.mu.Unlock()

	if fn == nil {
		return Result{}, nil
	}
	return fn(frame)
}

func (f *fakeRecognizer) FinalResult(_ context.Context) (Result, error) {
	f.mu.Lock()
	fn := f.finalFn
	f.mu.Unlock()

	if fn == nil {
		return Result{Final: true}, nil
	}
	return fn()
}

func (f *fakeRecognizer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeEngine hands out fake recognizers.
type fakeEngine struct {
	mu          sync.Mutex
	recognizers []*fakeRecognizer
	newErr      error
	closed      bool
}

func (e *fakeEngine) NewRecognizer() (Recognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	rec := &fakeRecognizer{}
	e.recognizers = append(e.recognizers, rec)
	return rec, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func testSessionConfig() Config {
	return Config{
		FrameBufferCapacity: 10,
		EventBufferSize:     64,
		ErrorCeiling:        5,
		HeartbeatInterval:   time.Hour, // keep heartbeats out of the way
		InactivityTimeout:   2 * time.Hour,
		InactivityPolicy:    InactivityTerminate,
		StopGraceTimeout:    500 * time.Millisecond,
		PopTimeout:          10 * time.Millisecond,
		SampleRate:          16000,
	}
}

// collectEvents drains the session's event channel until it closes or the
// timeout expires.
func collectEvents(t *testing.T, s *Session, timeout time.Duration) []protocol.Event {
	t.Helper()

	var events []protocol.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("Event channel did not close within %v (got %d events)", timeout, len(events))
			return events
		}
	}
}

// waitForEvent blocks until an event of the given type arrives.
func waitForEvent(t *testing.T, s *Session, eventType string, timeout time.Duration) protocol.Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("Event channel closed while waiting for %s", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("No %s event within %v", eventType, timeout)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	rec := &fakeRecognizer{
		acceptFn: func(frame []byte) (Result, error) {
			return Result{Text: "partial text"}, nil
		},
		finalFn: func() (Result, error) {
			return Result{Text: "closing words", Final: true}, nil
		},
	}

	s := NewSession(rec, testSessionConfig(), testLogger())
	if s.State() != StateConnecting {
		t.Errorf("Expected connecting state, got %s", s.State())
	}

	s.Start(context.Background())
	if s.State() != StateConnected {
		t.Errorf("Expected connected state, got %s", s.State())
	}

	ev := waitForEvent(t, s, protocol.EventConnected, time.Second)
	if ev.ConnectionID != s.ID {
		t.Errorf("Expected connection ID %s, got %s", s.ID, ev.ConnectionID)
	}

	if err := s.SubmitAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SubmitAudio failed: %v", err)
	}
	waitForEvent(t, s, protocol.EventPartial, time.Second)

	s.Stop()

	if s.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", s.State())
	}
	if !rec.isClosed() {
		t.Error("Expected recognizer to be closed")
	}

	// The closing transcript arrives before the channel closes.
	events := collectEvents(t, s, time.Second)
	var sawFinal bool
	for _, ev := range events {
		if ev.Type == protocol.EventFinal && ev.Text == "closing words" {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Error("Expected the closing transcript before channel close")
	}
}

func TestSessionStopIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	s := NewSession(rec, testSessionConfig(), testLogger())
	s.Start(context.Background())

	s.Stop()
	s.Stop() // must not panic or block

	if s.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", s.State())
	}
}

func TestSessionRejectsAudioAfterStop(t *testing.T) {
	rec := &fakeRecognizer{}
	s := NewSession(rec, testSessionConfig(), testLogger())
	s.Start(context.Background())
	s.Stop()

	if err := s.SubmitAudio(make([]byte, 640)); err == nil {
		t.Error("Expected error submitting audio to a stopped session")
	}
}

func TestSessionErrorCeiling(t *testing.T) {
	rec := &fakeRecognizer{
		acceptFn: func(frame []byte) (Result, error) {
			return Result{}, fmt.Errorf("decoder exploded")
		},
	}

	config := testSessionConfig()
	config.ErrorCeiling = 3

	s := NewSession(rec, config, testLogger())
	s.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.SubmitAudio(make([]byte, 640)); err != nil {
			break // session may already be tearing down
		}
		time.Sleep(20 * time.Millisecond)
	}

	events := collectEvents(t, s, 3*time.Second)

	if s.State() != StateError {
		t.Errorf("Expected error state, got %s", s.State())
	}

	var errorEvents int
	for _, ev := range events {
		if ev.Type == protocol.EventError {
			errorEvents++
		}
		// After an error termination no transcripts may follow.
		if ev.Type == protocol.EventFinal {
			t.Error("Unexpected final event after error termination")
		}
	}
	if errorEvents < 3 {
		t.Errorf("Expected at least 3 error events, got %d", errorEvents)
	}
}

func TestSessionErrorCountResetsOnSuccess(t *testing.T) {
	var calls int
	var mu sync.Mutex
	rec := &fakeRecognizer{
		acceptFn: func(frame []byte) (Result, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return Result{}, fmt.Errorf("transient failure")
			}
			return Result{Text: "recovered"}, nil
		},
	}

	config := testSessionConfig()
	config.ErrorCeiling = 2

	s := NewSession(rec, config, testLogger())
	s.Start(context.Background())

	s.SubmitAudio(make([]byte, 640)) // fails
	time.Sleep(50 * time.Millisecond)
	s.SubmitAudio(make([]byte, 640)) // succeeds, resets the counter

	waitForEvent(t, s, protocol.EventPartial, time.Second)

	if got := s.Info().ErrorCount; got != 0 {
		t.Errorf("Expected error count reset to 0, got %d", got)
	}
	if s.State() != StateConnected {
		t.Errorf("Expected session still connected, got %s", s.State())
	}

	s.Stop()
}

func TestSessionPingPong(t *testing.T) {
	rec := &fakeRecognizer{}
	s := NewSession(rec, testSessionConfig(), testLogger())
	s.Start(context.Background())
	defer s.Stop()

	if err := s.SubmitControl(protocol.Control{Action: protocol.ActionPing}); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	waitForEvent(t, s, protocol.EventPong, time.Second)
}

func TestSessionUnknownControl(t *testing.T) {
	rec := &fakeRecognizer{}
	s := NewSession(rec, testSessionConfig(), testLogger())
	s.Start(context.Background())
	defer s.Stop()

	if err := s.SubmitControl(protocol.Control{Action: "rewind"}); err == nil {
		t.Error("Expected error for unknown control action")
	}

	ev := waitForEvent(t, s, protocol.EventError, time.Second)
	if ev.Text == "" {
		t.Error("Expected error event to carry a message")
	}
}

func TestSessionHeartbeat(t *testing.T) {
	rec := &fakeRecognizer{}
	config := testSessionConfig()
	config.HeartbeatInterval = 30 * time.Millisecond
	config.InactivityTimeout = time.Hour

	s := NewSession(rec, config, testLogger())
	s.Start(context.Background())
	defer s.Stop()

	ev := waitForEvent(t, s, protocol.EventHeartbeat, time.Second)
	if ev.LastActivity == nil || ev.LastActivity.IsZero() {
		t.Error("Expected heartbeat to carry the last activity time")
	}
}

func TestSessionInactivityTerminates(t *testing.T) {
	rec := &fakeRecognizer{}
	config := testSessionConfig()
	config.HeartbeatInterval = 20 * time.Millisecond
	config.InactivityTimeout = 60 * time.Millisecond
	config.InactivityPolicy = InactivityTerminate

	s := NewSession(rec, config, testLogger())
	s.Start(context.Background())

	// No audio arrives; the heartbeat loop must terminate the session.
	collectEvents(t, s, 3*time.Second)

	if s.State() != StateDisconnected {
		t.Errorf("Expected disconnected state after inactivity, got %s", s.State())
	}
}

func TestSessionInactivityLogPolicy(t *testing.T) {
	rec := &fakeRecognizer{}
	config := testSessionConfig()
	config.HeartbeatInterval = 20 * time.Millisecond
	config.InactivityTimeout = 60 * time.Millisecond
	config.InactivityPolicy = InactivityLog

	s := NewSession(rec, config, testLogger())
	s.Start(context.Background())

	time.Sleep(200 * time.Millisecond)

	if s.State() != StateConnected {
		t.Errorf("Expected session to stay connected under log policy, got %s", s.State())
	}

	s.Stop()
}

func TestSessionInfo(t *testing.T) {
	rec := &fakeRecognizer{
		acceptFn: func(frame []byte) (Result, error) {
			return Result{Text: "words", Final: true}, nil
		},
	}

	s := NewSession(rec, testSessionConfig(), testLogger())
	s.Start(context.Background())

	s.SubmitAudio(make([]byte, 640))
	waitForEvent(t, s, protocol.EventFinal, time.Second)

	info := s.Info()
	if info.ConnectionID != s.ID {
		t.Errorf("Expected connection ID %s, got %s", s.ID, info.ConnectionID)
	}
	if info.FramesReceived != 1 {
		t.Errorf("Expected 1 frame received, got %d", info.FramesReceived)
	}
	if info.Finals != 1 {
		t.Errorf("Expected 1 final, got %d", info.Finals)
	}
	if info.State != "connected" {
		t.Errorf("Expected connected, got %s", info.State)
	}

	s.Stop()
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		terminal bool
	}{
		{StateConnecting, "connecting", false},
		{StateConnected, "connected", false},
		{StateError, "error", true},
		{StateDisconnected, "disconnected", true},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, expected %q", tt.state, got, tt.expected)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("State(%d).Terminal() = %t, expected %t", tt.state, got, tt.terminal)
		}
	}
}
