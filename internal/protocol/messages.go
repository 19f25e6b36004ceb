package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event types sent to the client.
const (
	EventConnected = "connected"
	EventPartial   = "partial"
	EventFinal     = "final"
	EventHeartbeat = "heartbeat"
	EventPong      = "pong"
	EventError     = "error"
)

// Control actions accepted from the client.
const (
	ActionStop = "stop"
	ActionPing = "ping"
)

// Event is a single outbound message for a streaming session.
// Timestamp is always set; the remaining fields depend on the event type.
type Event struct {
	Type         string     `json:"type"`
	Text         string     `json:"text,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Connected builds the initial confirmation event for a new session.
func Connected(connectionID string) Event {
	return Event{
		Type:         EventConnected,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// Partial builds a tentative transcription event that may be superseded.
func Partial(connectionID, text string) Event {
	return Event{
		Type:         EventPartial,
		Text:         text,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// Final builds a transcription event for a completed utterance.
func Final(connectionID, text string) Event {
	return Event{
		Type:         EventFinal,
		Text:         text,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// Heartbeat builds a periodic liveness event carrying the session's last
// observed activity time.
func Heartbeat(connectionID string, lastActivity time.Time) Event {
	return Event{
		Type:         EventHeartbeat,
		ConnectionID: connectionID,
		LastActivity: &lastActivity,
		Timestamp:    time.Now().UTC(),
	}
}

// Pong builds the reply to a ping control message.
func Pong(connectionID string) Event {
	return Event{
		Type:         EventPong,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// ErrorEvent builds an error notification for the client.
func ErrorEvent(connectionID, text string) Event {
	return Event{
		Type:         EventError,
		Text:         text,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	return data, nil
}

// Control is an inbound command from the client, sent as a text frame.
type Control struct {
	Action string `json:"action"`
}

// ParseControl decodes an inbound control message. An unknown action is not
// an error here; callers decide how to treat it.
func ParseControl(data []byte) (Control, error) {
	var ctrl Control
	if err := json.Unmarshal(data, &ctrl); err != nil {
		return Control{}, fmt.Errorf("failed to parse control message: %w", err)
	}
	ctrl.Action = strings.TrimSpace(strings.ToLower(ctrl.Action))
	if ctrl.Action == "" {
		return Control{}, fmt.Errorf("control message has no action")
	}
	return ctrl, nil
}
