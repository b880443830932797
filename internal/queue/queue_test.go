package queue

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
	"github.com/capitalize-ai/voice-orchestrator/internal/ratelimit"
)

type attemptReport struct {
	kind      apperror.Kind
	attempt   int
	willRetry bool
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []attemptReport
}

func (r *fakeReporter) ReportAttempt(_ context.Context, err *apperror.Error, attempt int, willRetry bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, attemptReport{err.Kind, attempt, willRetry})
}

func (r *fakeReporter) snapshot() []attemptReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]attemptReport(nil), r.reports...)
}

func newTestQueue(t *testing.T, name string, governor *ratelimit.Governor, opts ...Option) *Queue {
	t.Helper()
	q := New(Config{Name: name, MaxRetries: 3, BaseDelay: time.Millisecond}, governor, opts...)
	t.Cleanup(q.Close)
	return q
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) work(label string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, label)
		return label, nil
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, "test_priority", nil)
	rec := &recorder{}
	ctx := context.Background()

	futures := []*Future[string]{
		Submit(ctx, q, Request{Priority: PriorityLow}, rec.work("low")),
		Submit(ctx, q, Request{Priority: PriorityUrgent}, rec.work("urgent")),
		Submit(ctx, q, Request{Priority: PriorityMedium}, rec.work("medium")),
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	q.Start(ctx)
	for _, f := range futures {
		if _, err := f.Wait(waitCtx(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{"urgent", "medium", "low"}
	got := rec.got()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t, "test_fifo", nil)
	rec := &recorder{}
	ctx := context.Background()

	labels := []string{"a", "b", "c", "d"}
	var futures []*Future[string]
	for _, l := range labels {
		futures = append(futures, Submit(ctx, q, Request{Priority: PriorityHigh}, rec.work(l)))
	}
	futures = append(futures, Submit(ctx, q, Request{Priority: PriorityUrgent}, rec.work("first")))

	q.Start(ctx)
	for _, f := range futures {
		if _, err := f.Wait(waitCtx(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{"first", "a", "b", "c", "d"}
	got := rec.got()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestRetryOnOverloadThenSuccess(t *testing.T) {
	rep := &fakeReporter{}
	q := newTestQueue(t, "test_scenario_a", nil, WithReporter(rep))
	ctx := context.Background()
	q.Start(ctx)

	attempts := 0
	f := Submit(ctx, q, Request{Priority: PriorityMedium, Operation: "chat_completion"},
		func(context.Context) (string, error) {
			attempts++
			if attempts <= 2 {
				return "", &apperror.HTTPError{Provider: "openai", StatusCode: http.StatusServiceUnavailable}
			}
			return "hello", nil
		})

	got, err := f.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("result = %q, want hello", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	reports := rep.snapshot()
	if len(reports) != 2 {
		t.Fatalf("reported %d failed attempts, want 2", len(reports))
	}
	for i, r := range reports {
		if r.kind != apperror.KindAPIModelOverloaded || !r.willRetry || r.attempt != i+1 {
			t.Errorf("report %d = %+v", i, r)
		}
	}
}

func TestInvalidKeyIsNotRetried(t *testing.T) {
	rep := &fakeReporter{}
	q := newTestQueue(t, "test_scenario_b", nil, WithReporter(rep))
	ctx := context.Background()
	q.Start(ctx)

	attempts := 0
	f := Submit(ctx, q, Request{Priority: PriorityMedium}, func(context.Context) (string, error) {
		attempts++
		return "", &apperror.HTTPError{Provider: "openai", StatusCode: http.StatusUnauthorized}
	})

	_, err := f.Wait(waitCtx(t))
	var aerr *apperror.Error
	if !errors.As(err, &aerr) {
		t.Fatalf("error %v is not classified", err)
	}
	if aerr.Kind != apperror.KindAPIInvalidKey || aerr.Severity != apperror.SeverityCritical {
		t.Errorf("got %s/%s, want API_INVALID_KEY/CRITICAL", aerr.Kind, aerr.Severity)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if aerr.Context == nil || aerr.Context.Component != "test_scenario_b_queue" {
		t.Errorf("missing queue context: %+v", aerr.Context)
	}

	reports := rep.snapshot()
	if len(reports) != 1 || reports[0].willRetry {
		t.Errorf("reports = %+v, want one terminal report", reports)
	}
}

func TestRetriesExhausted(t *testing.T) {
	q := newTestQueue(t, "test_exhausted", nil)
	ctx := context.Background()
	q.Start(ctx)

	attempts := 0
	f := Submit(ctx, q, Request{MaxRetries: 2}, func(context.Context) (int, error) {
		attempts++
		return 0, &apperror.HTTPError{StatusCode: http.StatusBadGateway}
	})

	_, err := f.Wait(waitCtx(t))
	if !errors.Is(err, apperror.New(apperror.KindAPIServerError, "")) {
		t.Fatalf("err = %v, want API_SERVER_ERROR", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestNoRetries(t *testing.T) {
	q := newTestQueue(t, "test_no_retries", nil)
	ctx := context.Background()
	q.Start(ctx)

	attempts := 0
	f := Submit(ctx, q, Request{MaxRetries: NoRetries}, func(context.Context) (int, error) {
		attempts++
		return 0, context.DeadlineExceeded
	})
	if _, err := f.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestCancelledBeforeDispatch(t *testing.T) {
	rep := &fakeReporter{}
	q := newTestQueue(t, "test_cancel", nil, WithReporter(rep))

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	f := Submit(ctx, q, Request{}, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	cancel()
	q.Start(context.Background())

	_, err := f.Wait(waitCtx(t))
	if !errors.Is(err, apperror.New(apperror.KindCancelled, "")) {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
	if called {
		t.Error("cancelled work must not run")
	}
	assertCancelReported(t, rep)
}

func assertCancelReported(t *testing.T, rep *fakeReporter) {
	t.Helper()
	reports := rep.snapshot()
	if len(reports) != 1 {
		t.Fatalf("reports = %+v, want one", reports)
	}
	if r := reports[0]; r.kind != apperror.KindCancelled || r.attempt != 1 || r.willRetry {
		t.Errorf("report = %+v, want terminal CANCELLED on attempt 1", r)
	}
}

func TestCancelledWhileRateLimited(t *testing.T) {
	clk := time.Unix(0, 0)
	gov := ratelimit.NewGovernor(ratelimit.Limits{RequestsPerMinute: 1}, func() time.Time { return clk })
	gov.Reserve(0)

	rep := &fakeReporter{}
	q := newTestQueue(t, "test_cancel_rate", gov, WithReporter(rep))
	q.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	f := Submit(ctx, q, Request{}, func(context.Context) (int, error) { return 1, nil })

	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := f.Wait(waitCtx(t))
	if !errors.Is(err, apperror.New(apperror.KindCancelled, "")) {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
	assertCancelReported(t, rep)
}

func TestCancelledDuringCall(t *testing.T) {
	rep := &fakeReporter{}
	q := newTestQueue(t, "test_cancel_call", nil, WithReporter(rep))
	q.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	calls := 0
	f := Submit(ctx, q, Request{}, func(ctx context.Context) (int, error) {
		calls++
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	<-started
	cancel()
	_, err := f.Wait(waitCtx(t))
	if !errors.Is(err, apperror.New(apperror.KindCancelled, "")) {
		t.Fatalf("err = %v, want CANCELLED", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, a cancelled request must not be retried", calls)
	}
	assertCancelReported(t, rep)
}

func TestConcurrentSubmitKeepsOneInFlight(t *testing.T) {
	q := newTestQueue(t, "test_concurrent", nil)
	q.Start(context.Background())

	const submitters = 50
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	work := func(context.Context) (int, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(100 * time.Microsecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return 1, nil
	}

	var wg sync.WaitGroup
	futures := make([]*Future[int], submitters)
	for i := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures[i] = Submit(context.Background(), q, Request{Priority: Priority(i % 4)}, work)
		}()
	}
	wg.Wait()

	ctx := waitCtx(t)
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("peak in flight = %d, want 1", peak)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	q := New(Config{Name: "test_close"}, nil)
	ctx := context.Background()
	f1 := Submit(ctx, q, Request{}, func(context.Context) (int, error) { return 1, nil })
	f2 := Submit(ctx, q, Request{}, func(context.Context) (int, error) { return 2, nil })

	q.Close()

	for _, f := range []*Future[int]{f1, f2} {
		_, err := f.Wait(waitCtx(t))
		if !errors.Is(err, apperror.New(apperror.KindCancelled, "")) {
			t.Errorf("err = %v, want CANCELLED", err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after Close = %d", q.Len())
	}

	f3 := Submit(ctx, q, Request{}, func(context.Context) (int, error) { return 3, nil })
	if _, err := f3.Wait(waitCtx(t)); err == nil {
		t.Error("submit after Close should be rejected")
	}
}

func TestRequeueFront(t *testing.T) {
	q := New(Config{Name: "test_front"}, nil)
	defer q.Close()
	ctx := context.Background()

	noop := func(context.Context) (int, error) { return 0, nil }
	Submit(ctx, q, Request{Priority: PriorityUrgent, Operation: "urgent"}, noop)
	Submit(ctx, q, Request{Priority: PriorityMedium, Operation: "medium"}, noop)

	retried := &item{req: Request{Priority: PriorityLow, Operation: "retried"}, settle: func(any, error) {}}
	q.mu.Lock()
	q.retrying[retried] = time.NewTimer(time.Hour)
	q.mu.Unlock()
	q.requeueFront(retried)

	q.mu.Lock()
	defer q.mu.Unlock()
	want := []string{"retried", "urgent", "medium"}
	for i, it := range q.items {
		if it.req.Operation != want[i] {
			t.Fatalf("position %d = %s, want %s", i, it.req.Operation, want[i])
		}
	}
	if len(q.retrying) != 0 {
		t.Error("requeued item should leave the retry set")
	}
}

type headerResult struct{ h http.Header }

func (r headerResult) RateLimitHeaders() http.Header { return r.h }

func TestObservesRateLimitHeaders(t *testing.T) {
	gov := ratelimit.NewGovernor(ratelimit.Limits{RequestsPerMinute: 100}, nil)
	q := newTestQueue(t, "test_headers", gov)
	q.Start(context.Background())

	h := http.Header{}
	h.Set("X-Ratelimit-Remaining-Requests", "40")
	f := Submit(context.Background(), q, Request{}, func(context.Context) (headerResult, error) {
		return headerResult{h: h}, nil
	})
	if _, err := f.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gov.Snapshot().RequestsInWindow; got != 60 {
		t.Errorf("RequestsInWindow = %d, want 60", got)
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"urgent": PriorityUrgent,
		"HIGH":   PriorityHigh,
		"":       PriorityMedium,
		"low":    PriorityLow,
	}
	for in, want := range tests {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePriority("whenever"); err == nil {
		t.Error("expected an error for unknown priority")
	}
}
