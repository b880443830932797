package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents one turn of a conversation.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ImageURL is set when the turn carries an image attachment.
	ImageURL string `json:"image_url,omitempty"`

	// LLM metadata (assistant turns only)
	Model     *string `json:"model,omitempty"`
	TokensIn  *int    `json:"tokens_in,omitempty"`
	TokensOut *int    `json:"tokens_out,omitempty"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasImage reports whether the message carries an image attachment.
func (m Message) HasImage() bool {
	return m.ImageURL != ""
}

// SendMessageRequest is the request to send a new chat message.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// SendMessageResponse is the response after a completed chat turn.
type SendMessageResponse struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	ContextMessages  int      `json:"context_messages"`
	ContextTokens    int      `json:"context_tokens"`
}

// TranscriptionResponse is returned after a voice clip is transcribed.
type TranscriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}
