// Package llm provides the completion and transcription collaborators used
// by the request queues, with implementations for hosted providers.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64

	// Headers are the response headers, when the provider exposes them.
	Headers http.Header
}

// RateLimitHeaders exposes the vendor rate-limit headers to the queue.
func (r *CompletionResponse) RateLimitHeaders() http.Header {
	return r.Headers
}

// TranscriptionRequest is one recorded clip to transcribe.
type TranscriptionRequest struct {
	// Filename carries the audio format via its extension, e.g. "clip.m4a".
	Filename string
	Audio    io.Reader
	Language string
	Prompt   string
}

// TranscriptionResult is the transcribed text of a clip.
type TranscriptionResult struct {
	Text      string
	Language  string
	Duration  float64
	LatencyMs int64
}

// CompletionClient is the interface for completion providers.
type CompletionClient interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// TranscriptionClient is the interface for speech-to-text providers.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error)
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewCompletionClient creates a completion client for provider.
func NewCompletionClient(provider Provider, apiKey string) (CompletionClient, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

// MissingKeyClient stands in for a provider whose API key is not
// configured. Every call fails with a 401 so callers see API_INVALID_KEY
// and are offered the update-key action.
type MissingKeyClient struct {
	Provider Provider
}

// Name returns the provider name.
func (c *MissingKeyClient) Name() string {
	return string(c.Provider)
}

// Complete always fails with 401.
func (c *MissingKeyClient) Complete(context.Context, *CompletionRequest) (*CompletionResponse, error) {
	return nil, c.unauthorized()
}

// Transcribe always fails with 401.
func (c *MissingKeyClient) Transcribe(context.Context, *TranscriptionRequest) (*TranscriptionResult, error) {
	return nil, c.unauthorized()
}

func (c *MissingKeyClient) unauthorized() error {
	return &apperror.HTTPError{
		Provider:   string(c.Provider),
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error":{"message":"no API key configured"}}`,
	}
}
