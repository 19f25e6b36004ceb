package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ncn914491/privacy-ai-assistant/internal/metrics"
)

// sweepInterval is how often the registry looks for terminated sessions to
// reap.
const sweepInterval = 15 * time.Second

// Registry tracks every live streaming session and owns the shared decoder
// engine. Sessions that terminate on their own (inactivity, error ceiling)
// are reaped by a background sweep.
type Registry struct {
	engine  Engine
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	sessions map[string]*Session
	mu       sync.RWMutex

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a session registry and starts its sweep goroutine.
// The metrics argument may be nil.
func NewRegistry(engine Engine, config Config, m *metrics.Metrics, logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		engine:   engine,
		config:   config.withDefaults(),
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go r.startSweepRoutine()

	return r
}

// Open creates, registers, and starts a new session.
func (r *Registry) Open(ctx context.Context) (*Session, error) {
	recognizer, err := r.engine.NewRecognizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}

	session := NewSession(recognizer, r.config, r.logger)
	session.metrics = r.metrics

	r.mu.Lock()
	r.sessions[session.ID] = session
	count := len(r.sessions)
	r.mu.Unlock()

	session.Start(ctx)

	if r.metrics != nil {
		r.metrics.RecordSessionCreated()
		r.metrics.SetActiveSessions(count)
	}

	r.logger.Info("Session registered",
		slog.String("connection_id", session.ID),
		slog.Int("active_sessions", count),
	)

	return session, nil
}

// Get retrieves a session by connection id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, exists := r.sessions[id]
	return session, exists
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Infos returns a monitoring snapshot of every registered session.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// Close stops a session and removes it from the registry. It returns false
// when no session with the given id exists.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	session, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !exists {
		return false
	}

	session.Stop()

	if r.metrics != nil {
		r.metrics.RecordSessionDestroyed(time.Since(session.StartTime).Seconds())
		r.metrics.SetActiveSessions(count)
	}

	info := session.Info()
	r.logger.Info("Session removed",
		slog.String("connection_id", id),
		slog.String("state", info.State),
		slog.Duration("duration", info.Duration),
		slog.Uint64("frames_received", info.FramesReceived),
		slog.Uint64("frames_dropped", info.FramesDropped),
		slog.Uint64("finals", info.Finals),
	)

	return true
}

// CloseAll stops and removes every registered session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Close(id)
	}
}

// Stop gracefully shuts the registry down: all sessions stop, the sweep
// routine exits, and the decoder engine closes.
func (r *Registry) Stop() {
	r.logger.Info("Stopping session registry...")

	r.CloseAll()

	r.cancel()
	<-r.cleanup

	if err := r.engine.Close(); err != nil {
		r.logger.Warn("Error closing decoder engine", slog.String("error", err.Error()))
	}

	r.logger.Info("Session registry stopped",
		slog.Int("remaining_sessions", r.Count()),
	)
}

// startSweepRoutine reaps sessions that reached a terminal state on their
// own.
func (r *Registry) startSweepRoutine() {
	defer close(r.cleanup)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	r.logger.Info("Session sweep routine started",
		slog.Duration("check_interval", sweepInterval),
	)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Session sweep routine stopping")
			return

		case <-ticker.C:
			r.sweepTerminated()
		}
	}
}

// sweepTerminated removes sessions that already terminated themselves.
func (r *Registry) sweepTerminated() {
	r.mu.RLock()
	terminated := make([]string, 0)
	for id, session := range r.sessions {
		if session.State().Terminal() {
			terminated = append(terminated, id)
		}
	}
	r.mu.RUnlock()

	if len(terminated) == 0 {
		return
	}

	r.logger.Info("Reaping terminated sessions",
		slog.Int("count", len(terminated)),
	)

	for _, id := range terminated {
		r.Close(id)
	}
}
