package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ncn914491/privacy-ai-assistant/internal/tokens"
)

// Store keeps each conversation as one JSON file under a local directory.
// All data stays on disk; nothing leaves the machine.
type Store struct {
	dir       string
	estimator tokens.Estimator
	builder   *tokens.Builder
	logger    *slog.Logger

	mu sync.RWMutex
}

// NewStore creates a store rooted at dir, creating the directory when
// missing.
func NewStore(dir string, estimator tokens.Estimator, builder *tokens.Builder, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("chat directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chat directory %s: %w", dir, err)
	}
	if estimator == nil {
		estimator = tokens.Approximate{}
	}

	return &Store{
		dir:       dir,
		estimator: estimator,
		builder:   builder,
		logger:    logger,
	}, nil
}

// Create starts a new conversation. An empty title defaults until the first
// user message names it; an empty model uses the caller's default at
// generation time.
func (s *Store) Create(title, model string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session := &Session{
		ID:        NewSessionID(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if session.Title == "" {
		session.Title = "New Chat"
	}

	if err := s.save(session); err != nil {
		return nil, err
	}

	s.logger.Info("Chat session created",
		slog.String("session_id", session.ID),
		slog.String("title", session.Title),
	)

	return session, nil
}

// Load reads one conversation from disk.
func (s *Store) Load(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// List returns summaries of every stored conversation, most recently
// updated first. Unreadable files are skipped with a warning rather than
// failing the whole listing.
func (s *Store) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat directory: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		session, err := s.load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("Skipping unreadable chat file",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		summaries = append(summaries, session.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// AddMessage appends one turn to a conversation. The first user message of
// an untitled session names it.
func (s *Store) AddMessage(sessionID, role, content string) (Message, error) {
	if role == "" || content == "" {
		return Message{}, fmt.Errorf("message role and content cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(sessionID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:         NewMessageID(),
		Role:       role,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		TokenCount: s.estimator.Count(content),
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = msg.Timestamp

	if role == tokens.RoleUser && (session.Title == "" || session.Title == "New Chat") {
		session.Title = GenerateTitle(content)
	}

	if err := s.save(session); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// Rename changes a conversation's title.
func (s *Store) Rename(sessionID, title string) error {
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(sessionID)
	if err != nil {
		return err
	}

	session.Title = title
	session.UpdatedAt = time.Now().UTC()
	return s.save(session)
}

// Delete removes a conversation from disk.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(sessionID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("chat session %s not found", sessionID)
		}
		return fmt.Errorf("failed to delete chat session %s: %w", sessionID, err)
	}

	s.logger.Info("Chat session deleted", slog.String("session_id", sessionID))
	return nil
}

// Context assembles the token-bounded context window for a conversation.
// The model parameter overrides the session's stored model when non-empty.
func (s *Store) Context(sessionID, model, systemPrompt string, preserveRecent int) (tokens.Window, error) {
	if s.builder == nil {
		return tokens.Window{}, fmt.Errorf("no context builder configured")
	}

	s.mu.RLock()
	session, err := s.load(sessionID)
	s.mu.RUnlock()
	if err != nil {
		return tokens.Window{}, err
	}

	if model == "" {
		model = session.Model
	}

	history := make([]tokens.Turn, 0, len(session.Messages))
	for _, msg := range session.Messages {
		history = append(history, tokens.Turn{
			Role:       msg.Role,
			Content:    msg.Content,
			TokenCount: msg.TokenCount,
		})
	}

	return s.builder.Build(history, model, systemPrompt, preserveRecent), nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chat session %s not found", id)
		}
		return nil, fmt.Errorf("failed to read chat session %s: %w", id, err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse chat session %s: %w", id, err)
	}

	return &session, nil
}

// save writes atomically: a rename over the old file means a crash never
// leaves a half-written session behind.
func (s *Store) save(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chat session %s: %w", session.ID, err)
	}

	path := s.path(session.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chat session %s: %w", session.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace chat session %s: %w", session.ID, err)
	}

	return nil
}
