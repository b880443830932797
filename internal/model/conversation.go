// Package model defines data structures for the voice-chat service.
package model

import (
	"time"
)

// Conversation is the metadata of one chat session. Its turns live in the
// history store.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ConversationHistory is the response for reading a conversation.
type ConversationHistory struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}
