package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		kind     Kind
		severity Severity
		strategy Strategy
	}{
		{401, "", KindAPIInvalidKey, SeverityCritical, StrategyUserAction},
		{429, "", KindAPIRateLimited, SeverityMedium, StrategyRetry},
		{429, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			KindAPIQuotaExceeded, SeverityHigh, StrategyUserAction},
		{402, "", KindAPIInsufficientFunds, SeverityHigh, StrategyUserAction},
		{503, "", KindAPIModelOverloaded, SeverityMedium, StrategyRetry},
		{500, "", KindAPIServerError, SeverityMedium, StrategyRetry},
		{502, "", KindAPIServerError, SeverityMedium, StrategyRetry},
		{504, "", KindAPIServerError, SeverityMedium, StrategyRetry},
		{418, "", KindUnknown, SeverityMedium, StrategyRetry},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.kind), func(t *testing.T) {
			got := Classify(&HTTPError{Provider: "openai", StatusCode: tt.status, Body: tt.body})
			if got.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", got.Severity, tt.severity)
			}
			if got.Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.strategy)
			}
			if got.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", got.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifyVendorMessage(t *testing.T) {
	body := `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":401}}`
	got := Classify(&HTTPError{Provider: "openai", StatusCode: 401, Body: body})
	if got.Message != `provider "openai" returned status 401: Incorrect API key provided` {
		t.Errorf("unexpected message %q", got.Message)
	}
	if got.UserMessage == "" {
		t.Error("expected a display message")
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	got := Classify(&HTTPError{StatusCode: 429, Header: h})
	if got.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", got.RetryAfter)
	}
}

func TestParseRetryAfterDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
	if got := ParseRetryAfter(h, now); got != 30*time.Second {
		t.Errorf("ParseRetryAfter = %v, want 30s", got)
	}
	h.Set("Retry-After", "soon")
	if got := ParseRetryAfter(h, now); got != 0 {
		t.Errorf("ParseRetryAfter(garbage) = %v, want 0", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindNetworkTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindNetworkTimeout},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), KindCancelled},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.openai.com"}, KindNetworkOffline},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindNetworkOffline},
		{"offline sentinel", ErrOffline, KindNetworkOffline},
		{"validation", &ValidationError{Field: "audio", Message: "empty clip"}, KindValidation},
		{"generic", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got.Kind, tt.kind)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should keep the cause in its chain")
			}
		})
	}
}

func TestClassifyOfflineSeverity(t *testing.T) {
	got := Classify(ErrOffline)
	if got.Severity != SeverityHigh || got.Strategy != StrategyUserAction {
		t.Errorf("offline = %s/%s, want HIGH/USER_ACTION", got.Severity, got.Strategy)
	}
}

func TestClassifyPassThrough(t *testing.T) {
	orig := New(KindStorageFull, "disk full")
	wrapped := fmt.Errorf("saving log: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Error("already classified error should be returned unchanged")
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestEveryKindHasDescriptor(t *testing.T) {
	for _, k := range Kinds() {
		e := New(k, "")
		if e.UserMessage == "" || e.Severity == "" || e.Strategy == "" {
			t.Errorf("kind %s has an incomplete descriptor", k)
		}
	}
	if New(Kind("NOPE"), "").Kind != KindUnknown {
		t.Error("unknown kinds should collapse to UNKNOWN")
	}
}

func TestWithActionsCopies(t *testing.T) {
	orig := New(KindAPIRateLimited, "slow down")
	withActions := orig.WithActions([]RecoveryAction{{ID: "wait_and_retry", Primary: true}})
	if len(orig.Actions) != 0 {
		t.Error("WithActions must not mutate the original")
	}
	if a, ok := withActions.PrimaryAction(); !ok || a.ID != "wait_and_retry" {
		t.Errorf("PrimaryAction = %+v, %v", a, ok)
	}
	if withActions.ID != orig.ID {
		t.Error("copies describe the same occurrence")
	}
}

func TestWithContextKeepsExisting(t *testing.T) {
	e := New(KindUnknown, "x").WithContext(Context{Component: "queue", Metadata: map[string]string{"a": "1"}})
	e2 := e.WithContext(Context{Component: "other", Operation: "completion", Metadata: map[string]string{"a": "2", "b": "3"}})
	if e2.Context.Component != "queue" || e2.Context.Operation != "completion" {
		t.Errorf("unexpected context %+v", e2.Context)
	}
	if e2.Context.Metadata["a"] != "1" || e2.Context.Metadata["b"] != "3" {
		t.Errorf("unexpected metadata %v", e2.Context.Metadata)
	}
	if _, ok := e.Context.Metadata["b"]; ok {
		t.Error("WithContext must not mutate the original")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindAPIInvalidKey, "bad key"))
	if !errors.Is(err, New(KindAPIInvalidKey, "")) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, New(KindAPIRateLimited, "")) {
		t.Error("errors.Is should not match other kinds")
	}
}
