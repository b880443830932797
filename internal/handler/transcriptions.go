package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/capitalize-ai/voice-orchestrator/internal/service"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

// multipartMemory is the part of an upload kept in memory before spilling
// to temporary files.
const multipartMemory = 8 << 20

// TranscriptionHandler handles voice clip uploads.
type TranscriptionHandler struct {
	service  *service.TranscriptionService
	maxBytes int64
	logger   *logger.Logger
}

// NewTranscriptionHandler creates a new transcription handler. Uploads
// larger than maxBytes are rejected.
func NewTranscriptionHandler(svc *service.TranscriptionService, maxBytes int64, log *logger.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		service:  svc,
		maxBytes: maxBytes,
		logger:   logger.OrNop(log),
	}
}

// Create handles POST /api/v1/transcriptions
//
// The clip is sent as the multipart field "audio"; "language" and
// "priority" are optional form fields.
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		// Leave room for the multipart envelope and form fields.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio clip is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	resp, err := h.service.Transcribe(r.Context(), &service.TranscriptionInput{
		Filename: header.Filename,
		Audio:    audio,
		Language: r.FormValue("language"),
		Priority: r.FormValue("priority"),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
