package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxTitleLength bounds auto-generated session titles.
const maxTitleLength = 50

// Message is one stored conversation turn. TokenCount is cached at write
// time so context assembly does not re-estimate old turns.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count,omitempty"`
}

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing view of a session, without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summary returns the listing view of the session.
func (s *Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		Model:        s.Model,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

// NewSessionID generates a chat session identifier.
func NewSessionID() string {
	return "chat_" + shortID()
}

// NewMessageID generates a message identifier.
func NewMessageID() string {
	return "msg_" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenerateTitle derives a session title from the first user message,
// cutting at a word boundary when the content is too long.
func GenerateTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return "New Chat"
	}
	if len(title) <= maxTitleLength {
		return title
	}

	cut := title[:maxTitleLength]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
