package middleware

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxContentLength bounds message content and system prompts (~100KB).
	MaxContentLength = 100000
	// MaxTitleLength bounds conversation titles.
	MaxTitleLength = 256
)

// ValidateText checks that a free-text field is valid UTF-8 and at most
// maxLen bytes. Empty values pass; required fields are checked by the
// services.
func ValidateText(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length", field)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s must be valid UTF-8", field)
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}
