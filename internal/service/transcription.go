package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/llm"
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/internal/queue"
	"github.com/capitalize-ai/voice-orchestrator/internal/storage"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

// audioFormats are the container formats accepted for transcription.
var audioFormats = map[string]bool{
	".flac": true, ".m4a": true, ".mp3": true, ".mp4": true, ".mpeg": true,
	".mpga": true, ".oga": true, ".ogg": true, ".wav": true, ".webm": true,
}

// TranscriptionInput is one recorded clip.
type TranscriptionInput struct {
	Filename string
	Audio    []byte
	Language string
	Priority string
}

// TranscriptionService transcribes voice clips through the transcription
// queue. Results are cached by clip digest.
type TranscriptionService struct {
	queue    *queue.Queue
	client   llm.TranscriptionClient
	cache    storage.Store
	errors   *errorhandling.Service
	maxBytes int64
	logger   *logger.Logger
}

// NewTranscriptionService creates a transcription service. cache may be nil.
func NewTranscriptionService(
	q *queue.Queue,
	client llm.TranscriptionClient,
	cache storage.Store,
	errs *errorhandling.Service,
	maxBytes int64,
	log *logger.Logger,
) *TranscriptionService {
	return &TranscriptionService{
		queue:    q,
		client:   client,
		cache:    cache,
		errors:   errs,
		maxBytes: maxBytes,
		logger:   logger.OrNop(log).Component("transcription"),
	}
}

// Transcribe returns the text of a clip.
func (s *TranscriptionService) Transcribe(ctx context.Context, in *TranscriptionInput) (*model.TranscriptionResponse, error) {
	ec := apperror.Context{Component: "transcription", Operation: "transcribe"}

	if err := s.validate(in); err != nil {
		return nil, report(ctx, s.errors, err, ec)
	}
	priority, err := queue.ParsePriority(in.Priority)
	if err != nil {
		return nil, report(ctx, s.errors, &apperror.ValidationError{Field: "priority", Message: err.Error()}, ec)
	}

	sum := sha256.Sum256(in.Audio)
	key := storage.CacheKey("transcript", in.Language, hex.EncodeToString(sum[:]))
	if cached, ok := s.lookup(ctx, key); ok {
		return cached, nil
	}

	req := llm.TranscriptionRequest{
		Filename: in.Filename,
		Language: in.Language,
	}
	future := queue.Submit(ctx, s.queue, queue.Request{
		Priority:  priority,
		Operation: "transcription",
		Metadata:  map[string]string{"filename": in.Filename},
	}, func(ctx context.Context) (*llm.TranscriptionResult, error) {
		// Each attempt reads the clip from the start.
		attempt := req
		attempt.Audio = bytes.NewReader(in.Audio)
		return s.client.Transcribe(ctx, &attempt)
	})

	result, err := future.Wait(ctx)
	if err != nil {
		return nil, surface(s.errors, err, ec)
	}

	resp := &model.TranscriptionResponse{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
	}
	s.store(ctx, key, resp)
	return resp, nil
}

func (s *TranscriptionService) validate(in *TranscriptionInput) error {
	if len(in.Audio) == 0 {
		return &apperror.ValidationError{Field: "audio", Message: "audio clip is empty"}
	}
	if s.maxBytes > 0 && int64(len(in.Audio)) > s.maxBytes {
		return &apperror.ValidationError{Field: "audio", Message: "audio clip is too large"}
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if !audioFormats[ext] {
		return &apperror.ValidationError{Field: "filename", Message: "unsupported audio format " + ext}
	}
	return nil
}

func (s *TranscriptionService) lookup(ctx context.Context, key string) (*model.TranscriptionResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Transcript cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var resp model.TranscriptionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.logger.Warn("Discarding unreadable cached transcript", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &resp, true
}

// store caches a transcript. A failed write only costs a repeat call, so it
// is logged and otherwise ignored.
func (s *TranscriptionService) store(ctx context.Context, key string, resp *model.TranscriptionResponse) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		s.logger.Warn("Transcript cache write failed", zap.Error(err))
	}
}
