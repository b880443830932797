package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/middleware"
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/internal/service"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(chat *service.ChatService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		chat:   chat,
		logger: logger.OrNop(log),
	}
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateText("content", req.Content, middleware.MaxContentLength); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.chat.Send(ctx, conversationID, &req)
	if err != nil {
		h.logger.Debug("Chat turn failed",
			zap.String("conversation_id", conversationID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}
