// Package queue implements the single-flight priority request queue that
// sits in front of each rate-limited upstream service.
//
// A queue owns one drain goroutine. Items are ordered by priority with FIFO
// among equals, at most one item is in flight, and every dispatch first
// clears the rate governor. Failures are classified, reported, and either
// re-inserted at the front after a backoff delay or rejected to the caller.
package queue

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/ratelimit"
	"github.com/capitalize-ai/voice-orchestrator/internal/retry"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
	"github.com/capitalize-ai/voice-orchestrator/pkg/metrics"
	"github.com/capitalize-ai/voice-orchestrator/pkg/tracing"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// NoRetries can be set as Request.MaxRetries to disable retries for one
// request.
const NoRetries = -1

// Config configures a queue.
type Config struct {
	// Name labels logs, metrics, and error context ("completion", "transcription").
	Name string

	// MaxRetries is the default retry budget for requests that do not set one.
	MaxRetries int

	// BaseDelay is the backoff base.
	BaseDelay time.Duration
}

// Request describes one unit of work submitted to the queue.
type Request struct {
	Priority Priority

	// MaxRetries overrides the queue default when non-zero. Use NoRetries
	// to disable retries.
	MaxRetries int

	// Tokens is the estimated token cost charged against the rate window.
	Tokens int

	// Operation names the work for error context, e.g. "chat_completion".
	Operation string

	// Metadata is copied into the error context of failures.
	Metadata map[string]string
}

// Reporter receives every failed attempt. willRetry is false for the
// attempt that rejects the request.
type Reporter interface {
	ReportAttempt(ctx context.Context, err *apperror.Error, attempt int, willRetry bool)
}

// RateLimited is implemented by results that carry vendor rate-limit
// headers. The queue feeds them to its governor after a successful call.
type RateLimited interface {
	RateLimitHeaders() http.Header
}

type item struct {
	id         string
	req        Request
	maxRetries int
	attempt    int
	ctx        context.Context
	run        func(ctx context.Context) (any, error)
	settle     func(val any, err error)
	enqueuedAt time.Time
}

// Queue is a priority request queue with a single drain goroutine.
type Queue struct {
	cfg      Config
	governor *ratelimit.Governor
	policy   retry.Policy
	reporter Reporter
	log      *logger.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	items     []*item
	retrying  map[*item]*time.Timer
	closed    bool
	cancelRun context.CancelFunc
	wake      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

// Option configures optional queue collaborators.
type Option func(*Queue)

// WithReporter sets the reporter notified of failed attempts.
func WithReporter(r Reporter) Option {
	return func(q *Queue) { q.reporter = r }
}

// WithLogger sets the queue logger.
func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithPolicy replaces the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithTracer replaces the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(q *Queue) { q.tracer = t }
}

// New creates a queue. A nil governor disables rate limiting. The queue does
// not dispatch anything until Run or Start is called.
func New(cfg Config, governor *ratelimit.Governor, opts ...Option) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	q := &Queue{
		cfg:      cfg,
		governor: governor,
		retrying: make(map[*item]*time.Timer),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = logger.OrNop(q.log).Component("queue").With(zap.String("queue", cfg.Name))
	if q.tracer == nil {
		q.tracer = tracing.Tracer("voice-orchestrator/queue")
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.cfg.Name
}

// Submit enqueues work and returns its future. The request is rejected with
// CANCELLED if ctx is done before dispatch or the queue is closed.
func Submit[T any](ctx context.Context, q *Queue, req Request, work func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()

	maxRetries := req.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = q.cfg.MaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	it := &item{
		id:         uuid.NewString(),
		req:        req,
		maxRetries: maxRetries,
		ctx:        ctx,
		run: func(ctx context.Context) (any, error) {
			return work(ctx)
		},
		settle: func(val any, err error) {
			if err != nil {
				var zero T
				f.settle(zero, err)
				return
			}
			v, _ := val.(T)
			f.settle(v, nil)
		},
		enqueuedAt: time.Now(),
	}

	q.enqueue(it)
	return f
}

// Len returns the number of requests waiting for dispatch, including those
// waiting out a retry delay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.retrying)
}

func (q *Queue) enqueue(it *item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.settle(nil, apperror.New(apperror.KindCancelled, "queue closed"))
		return
	}

	idx := slices.IndexFunc(q.items, func(other *item) bool {
		return other.req.Priority > it.req.Priority
	})
	if idx < 0 {
		q.items = append(q.items, it)
	} else {
		q.items = slices.Insert(q.items, idx, it)
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	q.signal()
}

// requeueFront puts a retried item back at the head of the queue.
func (q *Queue) requeueFront(it *item) {
	q.mu.Lock()
	delete(q.retrying, it)
	if q.closed {
		q.mu.Unlock()
		it.settle(nil, apperror.New(apperror.KindCancelled, "queue closed"))
		return
	}
	q.items = slices.Insert(q.items, 0, it)
	q.updateDepthLocked()
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) updateDepthLocked() {
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(len(q.items) + len(q.retrying)))
}

// Start runs the drain loop in a new goroutine.
func (q *Queue) Start(ctx context.Context) {
	go q.Run(ctx)
}

// Run drains the queue until ctx is done or Close is called. It must be
// called at most once.
func (q *Queue) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.cancelRun = cancel
	q.mu.Unlock()

	q.log.Info("Queue started",
		zap.Int("max_retries", q.cfg.MaxRetries),
		zap.Duration("base_delay", q.cfg.BaseDelay),
	)

	for {
		it := q.next(ctx)
		if it == nil {
			q.log.Info("Queue stopped")
			return
		}
		q.dispatch(ctx, it)
	}
}

func (q *Queue) next(ctx context.Context) *item {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil
		}
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.updateDepthLocked()
			q.mu.Unlock()
			return it
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stopped:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *Queue) dispatch(runCtx context.Context, it *item) {
	log := q.log.WithRequest(it.id, it.req.Operation)

	if err := it.ctx.Err(); err != nil {
		q.cancelled(it, err, "request cancelled before dispatch")
		return
	}

	if err := q.waitForCapacity(runCtx, it); err != nil {
		q.cancelled(it, err, "request cancelled while rate limited")
		return
	}

	ctx, cancel := context.WithCancel(it.ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	ctx, span := q.tracer.Start(ctx, "queue.dispatch", trace.WithAttributes(
		attribute.String("queue.name", q.cfg.Name),
		attribute.String("queue.request_id", it.id),
		attribute.String("queue.operation", it.req.Operation),
		attribute.String("queue.priority", it.req.Priority.String()),
		attribute.Int("queue.attempt", it.attempt),
	))
	defer span.End()

	start := time.Now()
	val, err := it.run(ctx)
	if err == nil {
		if rl, ok := val.(RateLimited); ok && q.governor != nil {
			q.governor.Observe(rl.RateLimitHeaders())
		}
		span.SetStatus(codes.Ok, "")
		log.Debug("Request completed",
			zap.Int("attempt", it.attempt),
			zap.Duration("duration", time.Since(start)),
			zap.Duration("queued", time.Since(it.enqueuedAt)),
		)
		metrics.QueueDispatchTotal.WithLabelValues(q.cfg.Name, "success").Inc()
		it.settle(val, nil)
		return
	}

	cerr := q.classify(it, err)
	span.RecordError(cerr)
	span.SetStatus(codes.Error, string(cerr.Kind))

	willRetry := q.policy.ShouldRetry(cerr, it.attempt, it.maxRetries)
	if q.reporter != nil {
		q.reporter.ReportAttempt(it.ctx, cerr, it.attempt+1, willRetry)
	}

	if !willRetry {
		log.Warn("Request failed",
			zap.String("kind", string(cerr.Kind)),
			zap.String("severity", string(cerr.Severity)),
			zap.Int("attempt", it.attempt),
			zap.Error(err),
		)
		outcome := "failed"
		if cerr.Kind == apperror.KindCancelled {
			outcome = "cancelled"
		}
		q.reject(it, cerr, outcome)
		return
	}

	delay := q.policy.Delay(cerr, it.attempt, q.cfg.BaseDelay)
	it.attempt++
	log.Info("Retrying request",
		zap.String("kind", string(cerr.Kind)),
		zap.Int("attempt", it.attempt),
		zap.Duration("delay", delay),
	)
	metrics.QueueDispatchTotal.WithLabelValues(q.cfg.Name, "retry").Inc()
	metrics.QueueRetriesTotal.WithLabelValues(q.cfg.Name, string(cerr.Kind)).Inc()
	q.scheduleRetry(it, delay)
}

func (q *Queue) classify(it *item, err error) *apperror.Error {
	md := make(map[string]string, len(it.req.Metadata)+3)
	for k, v := range it.req.Metadata {
		md[k] = v
	}
	md["request_id"] = it.id
	md["attempt"] = strconv.Itoa(it.attempt)
	md["priority"] = it.req.Priority.String()

	return apperror.Classify(err).WithContext(apperror.Context{
		Component: q.cfg.Name + "_queue",
		Operation: it.req.Operation,
		Metadata:  md,
	})
}

func (q *Queue) scheduleRetry(it *item, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		it.settle(nil, apperror.New(apperror.KindCancelled, "queue closed"))
		return
	}
	q.retrying[it] = time.AfterFunc(delay, func() { q.requeueFront(it) })
	q.updateDepthLocked()
}

// waitForCapacity blocks until the governor admits the item.
func (q *Queue) waitForCapacity(runCtx context.Context, it *item) error {
	if q.governor == nil {
		return nil
	}
	for {
		wait := q.governor.Reserve(it.req.Tokens)
		if wait <= 0 {
			return nil
		}

		q.log.Info("Rate limit reached, waiting",
			zap.String("request_id", it.id),
			zap.Duration("wait", wait),
		)
		metrics.RateLimitWaitSeconds.WithLabelValues(q.cfg.Name).Observe(wait.Seconds())

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-it.ctx.Done():
			timer.Stop()
			return it.ctx.Err()
		case <-runCtx.Done():
			timer.Stop()
			return runCtx.Err()
		}
	}
}

// cancelled rejects an item that was cancelled before its call started. It
// is reported like a cancellation during the call.
func (q *Queue) cancelled(it *item, cause error, message string) {
	cerr := q.classify(it, apperror.Wrap(apperror.KindCancelled, cause, message))
	if q.reporter != nil {
		q.reporter.ReportAttempt(it.ctx, cerr, it.attempt+1, false)
	}
	q.log.WithRequest(it.id, it.req.Operation).Info("Request cancelled",
		zap.Int("attempt", it.attempt),
		zap.String("reason", message),
	)
	q.reject(it, cerr, "cancelled")
}

func (q *Queue) reject(it *item, err *apperror.Error, outcome string) {
	metrics.QueueDispatchTotal.WithLabelValues(q.cfg.Name, outcome).Inc()
	it.settle(nil, err)
}

// Close stops the drain loop and rejects every pending request with
// CANCELLED. The in-flight request, if any, has its context cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	pending := q.items
	q.items = nil
	for it, timer := range q.retrying {
		timer.Stop()
		pending = append(pending, it)
	}
	clear(q.retrying)
	q.updateDepthLocked()
	cancel := q.cancelRun
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stopped) })
	if cancel != nil {
		cancel()
	}

	for _, it := range pending {
		q.reject(it, apperror.New(apperror.KindCancelled, "queue closed"), "cancelled")
	}
	if len(pending) > 0 {
		q.log.Info("Queue closed", zap.Int("rejected", len(pending)))
	}
}
