package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

const (
	defaultOpenAIModel = "gpt-4o"
	defaultMaxTokens   = 4096
)

// OpenAIClient is the OpenAI client. It serves both chat completions and
// Whisper transcription.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// NewOpenAIClientWithConfig creates a client against a custom base URL.
func NewOpenAIClientWithConfig(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, toOpenAIMessage(msg))
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, openAIError(err)
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
		Headers:    resp.Header(),
	}, nil
}

func toOpenAIMessage(msg ChatMessage) openai.ChatCompletionMessage {
	if msg.ImageURL == "" {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return openai.ChatCompletionMessage{
		Role: msg.Role,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: msg.Content},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    msg.ImageURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	}
}

// Transcribe sends a clip to Whisper.
func (c *OpenAIClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	start := time.Now()

	if req.Audio == nil {
		return nil, &apperror.ValidationError{Field: "audio", Message: "no audio provided"}
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.m4a"
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   req.Audio,
		Prompt:   req.Prompt,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, openAIError(err)
	}

	return &TranscriptionResult{
		Text:      resp.Text,
		Language:  resp.Language,
		Duration:  resp.Duration,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// openAIError converts SDK errors carrying an HTTP status into
// *apperror.HTTPError. Transport errors are returned unchanged.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(struct {
			Error *openai.APIError `json:"error"`
		}{apiErr})
		return &apperror.HTTPError{
			Provider:   string(ProviderOpenAI),
			StatusCode: apiErr.HTTPStatusCode,
			Body:       string(body),
			Cause:      err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &apperror.HTTPError{
			Provider:   string(ProviderOpenAI),
			StatusCode: reqErr.HTTPStatusCode,
			Cause:      err,
		}
	}

	return err
}
