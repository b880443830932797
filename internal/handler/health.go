package handler

import (
	"net/http"

	"github.com/capitalize-ai/voice-orchestrator/internal/queue"
)

// ConnectionChecker reports whether an optional dependency is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	events ConnectionChecker
	queues []*queue.Queue
}

// NewHealthHandler creates a new health handler. events may be nil when
// event publishing is disabled.
func NewHealthHandler(events ConnectionChecker, queues ...*queue.Queue) *HealthHandler {
	return &HealthHandler{
		events: events,
		queues: queues,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.events != nil && !h.events.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	depth := make(map[string]int, len(h.queues))
	for _, q := range h.queues {
		depth[q.Name()] = q.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"queues": depth,
	})
}
