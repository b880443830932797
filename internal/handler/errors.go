package handler

import (
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/recovery"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

// ErrorHandler exposes the error log, counters and recovery actions.
type ErrorHandler struct {
	service *errorhandling.Service
	logger  *logger.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(svc *errorhandling.Service, log *logger.Logger) *ErrorHandler {
	return &ErrorHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// LogResponse is the response for the error log.
type LogResponse struct {
	Errors []*apperror.Error `json:"errors"`
}

// MetricsResponse is the response for the per-kind counters, most frequent
// first.
type MetricsResponse struct {
	Metrics []errorhandling.Metric `json:"metrics"`
}

// List handles GET /api/v1/errors
func (h *ErrorHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Log(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &LogResponse{Errors: entries})
}

// Clear handles DELETE /api/v1/errors
func (h *ErrorHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearLog(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Metrics handles GET /api/v1/errors/metrics
func (h *ErrorHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	counters := h.service.Metrics()
	out := make([]errorhandling.Metric, 0, len(counters))
	for kind, m := range counters {
		m.Kind = kind
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b errorhandling.Metric) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		if a.Kind < b.Kind {
			return -1
		}
		if a.Kind > b.Kind {
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, &MetricsResponse{Metrics: out})
}

// Get handles GET /api/v1/errors/:id
func (h *ErrorHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Find(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, errorhandling.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "error not found")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ClientActionResponse is returned when a recovery action has no server-side
// work and the client must carry it out itself.
type ClientActionResponse struct {
	ClientAction bool            `json:"client_action"`
	Action       recovery.Action `json:"action"`
}

// Recover handles POST /api/v1/errors/:id/actions/:action
//
// Actions run server-side, such as clearing the cache, answer 204. Actions
// with nothing to run here, such as navigation or retrying the original
// request, answer 202 and are left to the client.
func (h *ErrorHandler) Recover(w http.ResponseWriter, r *http.Request) {
	action, err := h.service.Recover(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "action"))
	switch {
	case err == nil && action.Run == nil:
		writeJSON(w, http.StatusAccepted, &ClientActionResponse{ClientAction: true, Action: action})
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errorhandling.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "error not found")
	case errors.Is(err, recovery.ErrUnknownAction):
		writeError(w, http.StatusNotFound, "unknown recovery action")
	default:
		writeFailure(w, err)
	}
}
