// Package errorhandling is the reporting hub for classified errors. It
// attaches recovery actions, keeps per-kind counters and a bounded log in
// storage, and fans errors out to subscribed listeners.
package errorhandling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/recovery"
	"github.com/capitalize-ai/voice-orchestrator/internal/storage"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
)

// DefaultLogLimit bounds the persisted error log.
const DefaultLogLimit = 100

// MetricsKey is the storage key of the persisted per-kind counters.
const MetricsKey = "error_metrics"

// ErrEntryNotFound is returned when a log entry id is unknown.
var ErrEntryNotFound = errors.New("error log entry not found")

// Listener receives every error that reaches the user.
type Listener func(*apperror.Error)

// Unsubscribe removes a listener.
type Unsubscribe func()

// Metric counts occurrences of one kind.
type Metric struct {
	Kind           apperror.Kind `json:"code"`
	Count          int           `json:"count"`
	LastOccurrence time.Time     `json:"last_occurrence"`
}

// Config configures the service.
type Config struct {
	Store    storage.Store
	Registry *recovery.Registry
	Logger   *logger.Logger

	// LogLimit bounds the persisted log. Default: 100
	LogLimit int
}

type subscription struct {
	id int
	fn Listener
}

// Service handles classified errors.
type Service struct {
	store    storage.Store
	registry *recovery.Registry
	log      *logger.Logger
	logLimit int

	mu        sync.Mutex
	metrics   map[apperror.Kind]Metric
	listeners []subscription
	nextID    int

	// persistMu is held from snapshot to write so a slower writer never
	// replaces newer counters with older ones.
	persistMu sync.Mutex
}

// NewService creates the service. A nil store falls back to memory.
func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = DefaultLogLimit
	}
	return &Service{
		store:    cfg.Store,
		registry: cfg.Registry,
		log:      logger.OrNop(cfg.Logger).Component("errorhandling"),
		logLimit: cfg.LogLimit,
		metrics:  make(map[apperror.Kind]Metric),
	}
}

// Handle classifies err, attaches recovery actions, records it, and
// notifies listeners. It returns the classified error.
func (s *Service) Handle(ctx context.Context, err error, ec apperror.Context) *apperror.Error {
	if err == nil {
		return nil
	}
	e := s.attach(apperror.Classify(err).WithContext(ec))
	s.record(ctx, e)
	s.notify(e)
	return e
}

// ReportAttempt records a failed queue attempt. Listeners only hear about
// the final attempt, so a retried failure never reaches the user.
func (s *Service) ReportAttempt(ctx context.Context, err *apperror.Error, attempt int, willRetry bool) {
	if err == nil {
		return
	}
	e := s.attach(err)
	s.log.Debug("Attempt failed",
		zap.String("kind", string(e.Kind)),
		zap.Int("attempt", attempt),
		zap.Bool("will_retry", willRetry),
	)
	s.record(ctx, e)
	if !willRetry {
		s.notify(e)
	}
}

// Attach returns e with its recovery actions, without recording it. It is
// used to surface an error that was already reported through ReportAttempt.
func (s *Service) Attach(e *apperror.Error) *apperror.Error {
	if e == nil {
		return nil
	}
	return s.attach(e)
}

func (s *Service) attach(e *apperror.Error) *apperror.Error {
	if s.registry == nil || len(e.Actions) > 0 {
		return e
	}
	return s.registry.Attach(e)
}

func (s *Service) record(ctx context.Context, e *apperror.Error) {
	s.logError(e)
	metrics.RecordError(string(e.Kind), string(e.Severity))

	s.mu.Lock()
	m := s.metrics[e.Kind]
	m.Kind = e.Kind
	m.Count++
	m.LastOccurrence = e.Timestamp
	s.metrics[e.Kind] = m
	s.mu.Unlock()

	// The record outlives the request that failed.
	ctx = context.WithoutCancel(ctx)

	// Storage failures are logged, never handled: handling them would
	// record them again.
	s.persistMetrics(ctx)

	entry, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("Failed to encode error log entry", zap.Error(err))
		return
	}
	if err := s.store.AppendLog(ctx, entry, s.logLimit); err != nil {
		s.log.Warn("Failed to persist error log entry", zap.Error(err))
	}
}

func (s *Service) persistMetrics(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	snapshot, err := json.Marshal(s.metrics)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("Failed to encode error metrics", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, MetricsKey, snapshot); err != nil {
		s.log.Warn("Failed to persist error metrics", zap.Error(err))
	}
}

func (s *Service) logError(e *apperror.Error) {
	fields := []zap.Field{
		zap.String("error_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("severity", string(e.Severity)),
		zap.String("strategy", string(e.Strategy)),
		zap.String("message", e.Message),
	}
	if e.Context != nil {
		fields = append(fields,
			zap.String("component", e.Context.Component),
			zap.String("operation", e.Context.Operation),
		)
	}

	switch e.Severity {
	case apperror.SeverityCritical, apperror.SeverityHigh:
		s.log.Error("Error recorded", fields...)
	case apperror.SeverityMedium:
		s.log.Warn("Error recorded", fields...)
	default:
		s.log.Info("Error recorded", fields...)
	}
}

func (s *Service) notify(e *apperror.Error) {
	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.deliver(l, e)
	}
}

func (s *Service) deliver(l subscription, e *apperror.Error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Error listener panicked",
				zap.Int("listener", l.id),
				zap.Any("panic", r),
			)
		}
	}()
	l.fn(e)
}

// Subscribe registers a listener. Listeners are called in registration
// order on the goroutine that reported the error.
func (s *Service) Subscribe(fn Listener) Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool {
				return sub.id == id
			})
		})
	}
}

// Metrics returns a copy of the per-kind counters.
func (s *Service) Metrics() map[apperror.Kind]Metric {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[apperror.Kind]Metric, len(s.metrics))
	for k, m := range s.metrics {
		out[k] = m
	}
	return out
}

// Log returns the persisted log, newest first. Entries that cannot be
// decoded are skipped.
func (s *Service) Log(ctx context.Context) ([]*apperror.Error, error) {
	raw, err := s.store.ReadLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("read error log: %w", err)
	}

	out := make([]*apperror.Error, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e apperror.Error
		if err := json.Unmarshal(raw[i], &e); err != nil {
			s.log.Warn("Skipping undecodable error log entry", zap.Error(err))
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

// ClearLog empties the persisted log. Counters are kept.
func (s *Service) ClearLog(ctx context.Context) error {
	if err := s.store.ClearLog(ctx); err != nil {
		return fmt.Errorf("clear error log: %w", err)
	}
	return nil
}

// Load restores persisted counters. A missing record is not an error; an
// undecodable one is reported as STORAGE_CORRUPTED.
func (s *Service) Load(ctx context.Context) error {
	raw, err := s.store.Get(ctx, MetricsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load error metrics: %w", err)
	}

	loaded := make(map[apperror.Kind]Metric)
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return apperror.Wrap(apperror.KindStorageCorrupted, err, "error metrics record is unreadable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range loaded {
		if k.Known() {
			s.metrics[k] = m
		}
	}
	s.log.Info("Error metrics restored", zap.Int("kinds", len(s.metrics)))
	return nil
}

// Find returns a logged error by id with its recovery actions rebuilt.
func (s *Service) Find(ctx context.Context, id string) (*apperror.Error, error) {
	entries, err := s.Log(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			if s.registry != nil {
				return s.registry.Attach(e), nil
			}
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}

// Recover runs one recovery action of a logged error and returns it. An
// action without a Run func has nothing to do server-side; the caller
// hands it back to the client.
func (s *Service) Recover(ctx context.Context, errorID, actionID string) (recovery.Action, error) {
	if s.registry == nil {
		return recovery.Action{}, recovery.ErrUnknownAction
	}
	e, err := s.Find(ctx, errorID)
	if err != nil {
		return recovery.Action{}, err
	}
	action, err := recovery.Find(e.Actions, actionID)
	if err != nil {
		return recovery.Action{}, err
	}
	return action, s.registry.Execute(ctx, action)
}
