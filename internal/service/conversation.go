// Package service provides the business logic of the voice chat backend:
// conversations, chat turns through the completion queue, and voice clip
// transcription through the transcription queue.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/history"
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

const maxTitleLength = 256

// ConversationService handles conversation operations.
type ConversationService struct {
	history *history.Store
	errors  *errorhandling.Service
	logger  *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store *history.Store, errs *errorhandling.Service, log *logger.Logger) *ConversationService {
	return &ConversationService{
		history: store,
		errors:  errs,
		logger:  logger.OrNop(log).Component("conversations"),
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) > maxTitleLength {
		return nil, report(ctx, s.errors, &apperror.ValidationError{Field: "title", Message: "title is too long"},
			apperror.Context{Component: "conversations", Operation: "create"})
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}

	conv := s.history.Create(req)
	s.logger.Info("Conversation created", zap.String("conversation_id", conv.ID))
	return &conv, nil
}

// Get returns a conversation and its turns.
func (s *ConversationService) Get(_ context.Context, conversationID string) (*model.ConversationHistory, error) {
	return s.history.Get(conversationID)
}

// Delete forgets a conversation.
func (s *ConversationService) Delete(_ context.Context, conversationID string) error {
	if err := s.history.Delete(conversationID); err != nil {
		return err
	}
	s.logger.Info("Conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}

// report sends err through the error handling service when one is wired and
// returns the classified error.
func report(ctx context.Context, errs *errorhandling.Service, err error, ec apperror.Context) *apperror.Error {
	if errs == nil {
		return apperror.Classify(err).WithContext(ec)
	}
	return errs.Handle(ctx, err, ec)
}

// surface classifies a failure that the queue already reported and attaches
// its recovery actions for the caller.
func surface(errs *errorhandling.Service, err error, ec apperror.Context) *apperror.Error {
	e := apperror.Classify(err).WithContext(ec)
	if errs == nil {
		return e
	}
	return errs.Attach(e)
}
