package model

import (
	"time"
)

// EventType represents the type of a published error event.
type EventType string

const (
	EventTypeError     EventType = "error"
	EventTypeCancel    EventType = "cancel"
	EventTypeRateLimit EventType = "rate_limit"
	EventTypeTimeout   EventType = "timeout"
)

// ErrorEvent is the envelope published for terminal errors.
type ErrorEvent struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	Kind           string            `json:"kind"`
	Severity       string            `json:"severity"`
	Strategy       string            `json:"strategy"`
	UserMessage    string            `json:"user_message"`
	Component      string            `json:"component,omitempty"`
	Operation      string            `json:"operation,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
