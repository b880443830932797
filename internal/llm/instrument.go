package llm

import (
	"context"
	"time"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
)

// WithTimeout bounds every Complete call. An expired call fails with
// context.DeadlineExceeded, which classifies as NETWORK_TIMEOUT. A zero
// timeout returns c unchanged.
func WithTimeout(c CompletionClient, timeout time.Duration) CompletionClient {
	if timeout <= 0 {
		return c
	}
	return &timeoutCompletion{next: c, timeout: timeout}
}

type timeoutCompletion struct {
	next    CompletionClient
	timeout time.Duration
}

func (t *timeoutCompletion) Name() string { return t.next.Name() }

func (t *timeoutCompletion) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}

// TranscriptionWithTimeout bounds every Transcribe call.
func TranscriptionWithTimeout(c TranscriptionClient, timeout time.Duration) TranscriptionClient {
	if timeout <= 0 {
		return c
	}
	return &timeoutTranscription{next: c, timeout: timeout}
}

type timeoutTranscription struct {
	next    TranscriptionClient
	timeout time.Duration
}

func (t *timeoutTranscription) Name() string { return t.next.Name() }

func (t *timeoutTranscription) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Transcribe(ctx, req)
}

// WithMetrics records latency and token usage of every Complete call.
func WithMetrics(c CompletionClient) CompletionClient {
	return &meteredCompletion{next: c}
}

type meteredCompletion struct {
	next CompletionClient
}

func (m *meteredCompletion) Name() string { return m.next.Name() }

func (m *meteredCompletion) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := m.next.Complete(ctx, req)
	metrics.RecordLLMRequest(m.next.Name(), "completion", statusLabel(err), time.Since(start).Seconds())
	if err == nil {
		metrics.RecordTokens(resp.Model, resp.TokensIn, resp.TokensOut)
	}
	return resp, err
}

// TranscriptionWithMetrics records latency of every Transcribe call.
func TranscriptionWithMetrics(c TranscriptionClient) TranscriptionClient {
	return &meteredTranscription{next: c}
}

type meteredTranscription struct {
	next TranscriptionClient
}

func (m *meteredTranscription) Name() string { return m.next.Name() }

func (m *meteredTranscription) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	start := time.Now()
	resp, err := m.next.Transcribe(ctx, req)
	metrics.RecordLLMRequest(m.next.Name(), "transcription", statusLabel(err), time.Since(start).Seconds())
	return resp, err
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperror.Classify(err).Kind)
}
