package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ncn914491/privacy-ai-assistant/internal/audio"
	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
	"github.com/Ncn914491/privacy-ai-assistant/internal/protocol"
)

// State is a session's lifecycle phase. Transitions only move forward:
// Connecting -> Connected -> {Disconnected | Error}.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateError
	StateDisconnected
)

// String returns the wire representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateError || s == StateDisconnected
}

// Inactivity policies.
const (
	InactivityTerminate = "terminate"
	InactivityLog       = "log"
)

// Config contains per-session tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	FrameBufferCapacity int
	EventBufferSize     int
	ErrorCeiling        int
	HeartbeatInterval   time.Duration
	InactivityTimeout   time.Duration
	InactivityPolicy    string
	StopGraceTimeout    time.Duration
	PopTimeout          time.Duration
	SampleRate          int

	// Debug audio capture. An empty DebugAudioDir disables it.
	DebugAudioDir       string
	DebugCaptureSeconds int
}

func (c Config) withDefaults() Config {
	if c.FrameBufferCapacity <= 0 {
		c.FrameBufferCapacity = audio.DefaultFrameBufferCapacity
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 64
	}
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = 5
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 45 * time.Second
	}
	if c.InactivityPolicy == "" {
		c.InactivityPolicy = InactivityTerminate
	}
	if c.StopGraceTimeout <= 0 {
		c.StopGraceTimeout = 2 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 100 * time.Millisecond
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Session is one live streaming transcription connection. Audio frames go
// in through SubmitAudio; transcription and liveness events come out of
// Events. A session runs two goroutines: a recognition worker draining the
// frame buffer and a heartbeat loop watching for inactivity.
type Session struct {
	ID        string
	StartTime time.Time

	config     Config
	recognizer Recognizer
	logger     *slog.Logger
	metrics    *metrics.Metrics // may be nil

	frames  *audio.FrameBuffer
	capture *audio.DebugCapture

	events       chan protocol.Event
	eventsMu     sync.RWMutex
	eventsClosed bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}

	mu             sync.RWMutex
	state          State
	lastActivity   time.Time
	errorCount     int
	framesReceived uint64
	framesDropped  uint64
	eventsDropped  uint64
	partials       uint64
	finals         uint64
}

// Info is a session snapshot for monitoring and APIs.
type Info struct {
	ConnectionID   string        `json:"connection_id"`
	State          string        `json:"state"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	FramesReceived uint64        `json:"frames_received"`
	FramesDropped  uint64        `json:"frames_dropped"`
	EventsDropped  uint64        `json:"events_dropped"`
	BufferedFrames int           `json:"buffered_frames"`
	Partials       uint64        `json:"partials"`
	Finals         uint64        `json:"finals"`
	ErrorCount     int           `json:"error_count"`
}

// NewSession creates a session in the Connecting state. Start must be
// called before audio is submitted.
func NewSession(recognizer Recognizer, config Config, logger *slog.Logger) *Session {
	config = config.withDefaults()

	s := &Session{
		ID:         uuid.NewString(),
		StartTime:  time.Now(),
		config:     config,
		recognizer: recognizer,
		logger:     logger,
		frames:     audio.NewFrameBuffer(config.FrameBufferCapacity),
		events:     make(chan protocol.Event, config.EventBufferSize),
		done:       make(chan struct{}),
		state:      StateConnecting,
	}
	s.lastActivity = s.StartTime

	if config.DebugAudioDir != "" {
		s.capture = audio.NewDebugCapture(config.DebugCaptureSeconds, config.SampleRate)
	}

	return s
}

// Start transitions the session to Connected, emits the confirmation event,
// and launches the worker and heartbeat goroutines.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	s.state = StateConnected
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.emit(protocol.Connected(s.ID))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.workerLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop()
	}()

	s.logger.Info("Session started",
		slog.String("connection_id", s.ID),
		slog.Int("buffer_capacity", s.config.FrameBufferCapacity),
		slog.Duration("heartbeat_interval", s.config.HeartbeatInterval),
		slog.Duration("inactivity_timeout", s.config.InactivityTimeout),
	)
}

// Events is the stream of outbound events. The channel is closed once the
// session has fully terminated.
func (s *Session) Events() <-chan protocol.Event {
	return s.events
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns the time of the most recent inbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SubmitAudio enqueues one PCM-16 frame for recognition. When the buffer is
// full the oldest frame is discarded so ingestion never blocks the
// transport.
func (s *Session) SubmitAudio(frame []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s, not accepting audio", s.ID, state)
	}
	s.lastActivity = time.Now()
	s.framesReceived++
	s.mu.Unlock()

	result := s.frames.Push(frame)
	if result.Evicted {
		s.mu.Lock()
		s.framesDropped++
		dropped := s.framesDropped
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordFrameDropped()
		}

		if dropped%100 == 1 {
			s.logger.Warn("Audio buffer full, dropping oldest frames",
				slog.String("connection_id", s.ID),
				slog.Uint64("total_dropped", dropped),
			)
		}
	}

	if s.capture != nil {
		s.capture.Append(frame)
	}

	return nil
}

// SubmitControl handles an inbound control message. Stop is acknowledged
// but not executed here; the transport owns session teardown.
func (s *Session) SubmitControl(ctrl protocol.Control) error {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	switch ctrl.Action {
	case protocol.ActionPing:
		s.emit(protocol.Pong(s.ID))
		return nil
	case protocol.ActionStop:
		return nil
	default:
		s.emit(protocol.ErrorEvent(s.ID, fmt.Sprintf("unknown action: %s", ctrl.Action)))
		return fmt.Errorf("unknown control action: %s", ctrl.Action)
	}
}

// RecordSendFailure notes that the transport failed to deliver an event.
// Repeated failures terminate the session.
func (s *Session) RecordSendFailure(err error) {
	s.noteFailure("event delivery failed", err)
}

// Stop gracefully terminates the session: ingestion closes, buffered
// frames get a grace period to drain, the closing transcript is emitted,
// and the debug capture (if any) is flushed. Stop is idempotent and blocks
// until teardown completes.
func (s *Session) Stop() {
	s.terminate(StateDisconnected)
}

// Info returns a monitoring snapshot.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ConnectionID:   s.ID,
		State:          s.state.String(),
		StartTime:      s.StartTime,
		LastActivity:   s.lastActivity,
		Duration:       time.Since(s.StartTime),
		FramesReceived: s.framesReceived,
		FramesDropped:  s.framesDropped,
		EventsDropped:  s.eventsDropped,
		BufferedFrames: s.frames.Len(),
		Partials:       s.partials,
		Finals:         s.finals,
		ErrorCount:     s.errorCount,
	}
}

// workerLoop drains the frame buffer through the recognizer.
func (s *Session) workerLoop() {
	s.logger.Debug("Recognition worker started", slog.String("connection_id", s.ID))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Recognition worker stopping", slog.String("connection_id", s.ID))
			return
		default:
		}

		frame, ok := s.frames.Pop(s.config.PopTimeout)
		if !ok {
			continue
		}

		result, err := s.recognizer.Accept(s.ctx, frame)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.RecordDecodeError()
			}
			s.noteFailure("recognition failed", err)
			continue
		}

		if result.Text == "" {
			continue
		}

		s.resetFailures()

		if result.Final {
			s.mu.Lock()
			s.finals++
			s.mu.Unlock()
			s.emit(protocol.Final(s.ID, result.Text))
		} else {
			s.mu.Lock()
			s.partials++
			s.mu.Unlock()
			s.emit(protocol.Partial(s.ID, result.Text))
		}
	}
}

// heartbeatLoop emits periodic liveness events and enforces the inactivity
// timeout.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			last := s.LastActivity()
			s.emit(protocol.Heartbeat(s.ID, last))

			idle := time.Since(last)
			if idle <= s.config.InactivityTimeout {
				continue
			}

			if s.config.InactivityPolicy == InactivityTerminate {
				s.logger.Warn("Session inactive, terminating",
					slog.String("connection_id", s.ID),
					slog.Duration("idle", idle),
					slog.Duration("timeout", s.config.InactivityTimeout),
				)
				go s.terminate(StateDisconnected)
				return
			}

			s.logger.Warn("Session inactive",
				slog.String("connection_id", s.ID),
				slog.Duration("idle", idle),
				slog.Duration("timeout", s.config.InactivityTimeout),
			)
		}
	}
}

// noteFailure records a recoverable error and escalates to termination when
// the consecutive-error ceiling is reached.
func (s *Session) noteFailure(reason string, err error) {
	s.mu.Lock()
	s.errorCount++
	count := s.errorCount
	ceiling := s.config.ErrorCeiling
	s.mu.Unlock()

	s.logger.Error("Session error",
		slog.String("connection_id", s.ID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
		slog.Int("error_count", count),
		slog.Int("ceiling", ceiling),
	)

	s.emit(protocol.ErrorEvent(s.ID, fmt.Sprintf("%s: %s", reason, err.Error())))

	if count >= ceiling {
		s.logger.Error("Error ceiling reached, terminating session",
			slog.String("connection_id", s.ID),
			slog.Int("error_count", count),
		)
		// Escalation can run on the worker goroutine; teardown waits
		// for the worker, so it must not run inline.
		go s.terminate(StateError)
	}
}

// resetFailures clears the consecutive-error counter after a success.
func (s *Session) resetFailures() {
	s.mu.Lock()
	s.errorCount = 0
	s.mu.Unlock()
}

// terminate tears the session down exactly once and blocks until done.
// A StateError target skips the closing transcript: after an error the
// client must not receive further transcription events.
func (s *Session) terminate(target State) {
	s.stopOnce.Do(func() {
		s.logger.Info("Session stopping",
			slog.String("connection_id", s.ID),
			slog.String("target_state", target.String()),
			slog.Duration("duration", time.Since(s.StartTime)),
		)

		s.frames.Close()

		if target != StateError {
			// Give the worker a grace period to drain buffered audio.
			deadline := time.Now().Add(s.config.StopGraceTimeout)
			for s.frames.Len() > 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
		}

		s.cancel()
		s.wg.Wait()

		if target != StateError {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.StopGraceTimeout)
			result, err := s.recognizer.FinalResult(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("Failed to obtain closing transcript",
					slog.String("connection_id", s.ID),
					slog.String("error", err.Error()),
				)
			} else if result.Text != "" {
				s.mu.Lock()
				s.finals++
				s.mu.Unlock()
				s.emit(protocol.Final(s.ID, result.Text))
			}
		}

		if err := s.recognizer.Close(); err != nil {
			s.logger.Warn("Failed to close recognizer",
				slog.String("connection_id", s.ID),
				slog.String("error", err.Error()),
			)
		}

		if s.capture != nil {
			path, err := s.capture.Flush(s.config.DebugAudioDir, s.ID, s.config.SampleRate)
			if err != nil {
				s.logger.Warn("Failed to flush debug audio",
					slog.String("connection_id", s.ID),
					slog.String("error", err.Error()),
				)
			} else if path != "" {
				s.logger.Info("Debug audio written",
					slog.String("connection_id", s.ID),
					slog.String("path", path),
				)
			}
		}

		s.mu.Lock()
		s.state = target
		s.mu.Unlock()

		s.closeEvents()

		s.logger.Info("Session stopped",
			slog.String("connection_id", s.ID),
			slog.String("state", target.String()),
			slog.Duration("duration", time.Since(s.StartTime)),
		)

		close(s.done)
	})

	<-s.done
}

// emit delivers an event without blocking. A full outbound buffer drops the
// event; the transport is falling behind and heartbeats will resume the
// stream.
func (s *Session) emit(ev protocol.Event) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	if s.eventsClosed {
		return
	}

	select {
	case s.events <- ev:
	default:
		s.mu.Lock()
		s.eventsDropped++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordEventDropped()
		}

		s.logger.Warn("Outbound event buffer full, dropping event",
			slog.String("connection_id", s.ID),
			slog.String("event_type", ev.Type),
		)
	}
}

func (s *Session) closeEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}
