package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/model"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

const (
	// StreamName is the name of the error events stream.
	StreamName = "ERROR_EVENTS"

	// SubjectPrefix is the prefix for all error event subjects.
	SubjectPrefix = "voice.errors"

	publishTimeout = 10 * time.Second
)

// Publisher is the subset of jetstream.JetStream used to publish.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventSink publishes terminal errors as events.
type EventSink struct {
	js      Publisher
	log     *logger.Logger
	backoff func() backoff.BackOff
}

// NewEventSink creates a sink publishing through js.
func NewEventSink(js Publisher, log *logger.Logger) *EventSink {
	return &EventSink{
		js:  js,
		log: logger.OrNop(log).Component("events"),
		backoff: func() backoff.BackOff {
			expo := backoff.NewExponentialBackOff()
			expo.InitialInterval = 200 * time.Millisecond
			expo.MaxInterval = 2 * time.Second
			expo.MaxElapsedTime = publishTimeout
			return expo
		},
	}
}

// EnsureStream ensures the error events stream exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Errors surfaced to voice chat users",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for an error event, e.g.
// "voice.errors.api.api_invalid_key".
func EventSubject(e *model.ErrorEvent) string {
	family := string(apperror.Kind(e.Kind).Family())
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, family, strings.ToLower(e.Kind))
}

// NewErrorEvent converts a classified error into its published envelope.
func NewErrorEvent(e *apperror.Error) *model.ErrorEvent {
	ev := &model.ErrorEvent{
		ID:          e.ID,
		Type:        eventType(e.Kind),
		Kind:        string(e.Kind),
		Severity:    string(e.Severity),
		Strategy:    string(e.Strategy),
		UserMessage: e.UserMessage,
		CreatedAt:   e.Timestamp,
	}
	if e.Context != nil {
		ev.Component = e.Context.Component
		ev.Operation = e.Context.Operation
		ev.ConversationID = e.Context.Metadata["conversation_id"]
		if len(e.Context.Metadata) > 0 {
			ev.Metadata = make(map[string]string, len(e.Context.Metadata))
			for k, v := range e.Context.Metadata {
				ev.Metadata[k] = v
			}
		}
	}
	return ev
}

func eventType(kind apperror.Kind) model.EventType {
	switch kind {
	case apperror.KindCancelled:
		return model.EventTypeCancel
	case apperror.KindAPIRateLimited, apperror.KindAPIQuotaExceeded:
		return model.EventTypeRateLimit
	case apperror.KindNetworkTimeout:
		return model.EventTypeTimeout
	default:
		return model.EventTypeError
	}
}

// PublishEvent publishes ev, retrying transient failures with exponential
// backoff. The message id deduplicates retried publishes on the server.
func (s *EventSink) PublishEvent(ctx context.Context, ev *model.ErrorEvent) (uint64, error) {
	subject := EventSubject(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	var seq uint64
	op := func() error {
		ack, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.ID))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		seq = ack.Sequence
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.backoff(), ctx)); err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return seq, nil
}

// Listener returns an error listener that publishes in the background so
// the reporting goroutine is never blocked on the broker.
func (s *EventSink) Listener() func(*apperror.Error) {
	return func(e *apperror.Error) {
		ev := NewErrorEvent(e)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if _, err := s.PublishEvent(ctx, ev); err != nil {
				s.log.Warn("Failed to publish error event",
					zap.String("error_id", ev.ID),
					zap.String("kind", ev.Kind),
					zap.Error(err),
				)
			}
		}()
	}
}
