package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/history"
	"github.com/capitalize-ai/voice-orchestrator/internal/llm"
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/internal/queue"
	"github.com/capitalize-ai/voice-orchestrator/internal/tokens"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

// ChatConfig bounds the context sent with each completion.
type ChatConfig struct {
	MaxContextMessages int
	MaxContextTokens   int
	DefaultModel       string
	MaxResponseTokens  int
}

// ChatService turns user messages into assistant replies.
type ChatService struct {
	history *history.Store
	queue   *queue.Queue
	client  llm.CompletionClient
	errors  *errorhandling.Service
	cfg     ChatConfig
	logger  *logger.Logger
}

// NewChatService creates a chat service. Completions are dispatched through q.
func NewChatService(
	store *history.Store,
	q *queue.Queue,
	client llm.CompletionClient,
	errs *errorhandling.Service,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		history: store,
		queue:   q,
		client:  client,
		errors:  errs,
		cfg:     cfg,
		logger:  logger.OrNop(log).Component("chat"),
	}
}

// Send appends a user turn, requests a completion for the trimmed context,
// and stores both turns once the completion succeeds. A failed completion
// leaves the history untouched.
func (s *ChatService) Send(ctx context.Context, conversationID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	ec := apperror.Context{
		Component: "chat",
		Operation: "send_message",
		Metadata:  map[string]string{"conversation_id": conversationID},
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && req.ImageURL == "" {
		return nil, report(ctx, s.errors, &apperror.ValidationError{Field: "content", Message: "message is empty"}, ec)
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		return nil, report(ctx, s.errors, &apperror.ValidationError{Field: "priority", Message: err.Error()}, ec)
	}

	conv, err := s.history.Get(conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Content:   content,
		ImageURL:  req.ImageURL,
		CreatedAt: time.Now(),
	}

	system := conv.Conversation.SystemPrompt
	systemCost := 0
	if system != "" {
		systemCost = tokens.EstimateMessage(model.Message{Role: model.RoleSystem, Content: system})
	}

	window := history.Optimize(append(conv.Messages, userMsg), s.cfg.MaxContextMessages, s.turnBudget(systemCost))
	if len(window) == 0 {
		return nil, report(ctx, s.errors, &apperror.ValidationError{
			Field:   "content",
			Message: "message does not fit in the context budget",
		}, ec)
	}
	contextTokens := tokens.EstimateMessages(window) + systemCost

	completionReq := &llm.CompletionRequest{
		Model:     req.Model,
		System:    system,
		Messages:  toChatMessages(window),
		MaxTokens: s.cfg.MaxResponseTokens,
	}
	if completionReq.Model == "" {
		completionReq.Model = s.cfg.DefaultModel
	}

	s.logger.Debug("Submitting completion",
		zap.String("conversation_id", conversationID),
		zap.Int("context_messages", len(window)),
		zap.Int("context_tokens", contextTokens),
		zap.String("priority", priority.String()),
	)

	future := queue.Submit(ctx, s.queue, queue.Request{
		Priority:  priority,
		Tokens:    contextTokens,
		Operation: "chat_completion",
		Metadata:  ec.Metadata,
	}, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return s.client.Complete(ctx, completionReq)
	})

	resp, err := future.Wait(ctx)
	if err != nil {
		return nil, surface(s.errors, err, ec)
	}

	assistantMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		Model:     &resp.Model,
		TokensIn:  &resp.TokensIn,
		TokensOut: &resp.TokensOut,
		LatencyMs: &resp.LatencyMs,
		CreatedAt: time.Now(),
	}

	if err := s.history.Append(conversationID, userMsg, assistantMsg); err != nil {
		// The conversation was deleted or evicted while the completion ran.
		s.logger.Warn("Dropping completed turn", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	return &model.SendMessageResponse{
		UserMessage:      &userMsg,
		AssistantMessage: &assistantMsg,
		ContextMessages:  len(window),
		ContextTokens:    contextTokens,
	}, nil
}

// turnBudget is the token budget left for turns after the system prompt.
// It never drops to zero, which would disable trimming.
func (s *ChatService) turnBudget(systemCost int) int {
	if s.cfg.MaxContextTokens <= 0 {
		return 0
	}
	return max(s.cfg.MaxContextTokens-systemCost, 1)
}

func toChatMessages(msgs []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = llm.ChatMessage{
			Role:     string(m.Role),
			Content:  m.Content,
			ImageURL: m.ImageURL,
		}
	}
	return out
}
