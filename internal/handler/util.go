package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/history"
)

// statusClientClosedRequest is returned when the caller went away before
// the request finished.
const statusClientClosedRequest = 499

// ErrorBody is the JSON shape of a classified error response.
type ErrorBody struct {
	ID             string                    `json:"id"`
	Code           apperror.Kind             `json:"code"`
	Message        string                    `json:"message"`
	Severity       apperror.Severity         `json:"severity"`
	Strategy       apperror.Strategy         `json:"recovery_strategy"`
	RetryAfter     int                       `json:"retry_after,omitempty"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	Treatment      errorhandling.UITreatment `json:"treatment"`
	Actions        []apperror.RecoveryAction `json:"recovery_actions"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeFailure writes err as a classified error response. Errors that never
// reached the classifier, such as unknown conversations, keep a plain body.
func writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	e := apperror.Classify(err)
	body := ErrorBody{
		ID:        e.ID,
		Code:      e.Kind,
		Message:   e.UserMessage,
		Severity:  e.Severity,
		Strategy:  e.Strategy,
		Treatment: errorhandling.Treatment(e.Severity),
		Actions:   e.Actions,
	}
	if body.Actions == nil {
		body.Actions = []apperror.RecoveryAction{}
	}
	if e.Context != nil {
		body.ConversationID = e.Context.Metadata["conversation_id"]
	}
	if e.RetryAfter > 0 {
		body.RetryAfter = int(e.RetryAfter.Seconds())
	}

	writeJSON(w, statusFor(e.Kind), map[string]ErrorBody{"error": body})
}

// statusFor maps a kind to the HTTP status returned to the caller.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindCancelled:
		return statusClientClosedRequest
	case apperror.KindAPIRateLimited, apperror.KindAPIQuotaExceeded:
		return http.StatusTooManyRequests
	case apperror.KindAPIInsufficientFunds:
		return http.StatusPaymentRequired
	case apperror.KindAPIModelOverloaded:
		return http.StatusServiceUnavailable
	case apperror.KindNetworkTimeout:
		return http.StatusGatewayTimeout
	case apperror.KindAPIInvalidKey, apperror.KindAPIServerError, apperror.KindNetworkOffline:
		return http.StatusBadGateway
	case apperror.KindStorageFull, apperror.KindStorageQuotaExceeded:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
