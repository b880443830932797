package retry

import (
	"testing"
	"time"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

func TestShouldRetry(t *testing.T) {
	p := Policy{}

	tests := []struct {
		name    string
		kind    apperror.Kind
		attempt int
		want    bool
	}{
		{"overloaded first attempt", apperror.KindAPIModelOverloaded, 0, true},
		{"overloaded last allowed", apperror.KindAPIModelOverloaded, 2, true},
		{"overloaded exhausted", apperror.KindAPIModelOverloaded, 3, false},
		{"invalid key", apperror.KindAPIInvalidKey, 0, false},
		{"storage corrupted", apperror.KindStorageCorrupted, 0, false},
		{"cancelled", apperror.KindCancelled, 0, false},
		{"network slow degrades", apperror.KindNetworkSlow, 0, false},
		{"timeout", apperror.KindNetworkTimeout, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ShouldRetry(apperror.New(tt.kind, ""), tt.attempt, 3)
			if got != tt.want {
				t.Errorf("ShouldRetry(%s, %d, 3) = %v, want %v", tt.kind, tt.attempt, got, tt.want)
			}
		})
	}

	if p.ShouldRetry(nil, 0, 3) {
		t.Error("nil error should not be retried")
	}
}

func TestRetryTerminates(t *testing.T) {
	p := Policy{}
	err := apperror.New(apperror.KindAPIServerError, "")
	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts++
		if !p.ShouldRetry(err, attempt, 3) {
			break
		}
		if attempts > 100 {
			t.Fatal("retry loop did not terminate")
		}
	}
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (one initial plus three retries)", attempts)
	}
}

func TestBackoffBounds(t *testing.T) {
	base := time.Second
	for _, r := range []float64{0, 0.5, 0.999} {
		p := Policy{Rand: func() float64 { return r }}
		for attempt := 0; attempt < 10; attempt++ {
			d := p.Backoff(attempt, base)
			exp := base << attempt
			lower := min(exp, MaxDelay)
			upper := min(exp+exp/10, MaxDelay)
			if d < lower || d > upper {
				t.Errorf("Backoff(%d) with r=%v = %v, want in [%v, %v]", attempt, r, d, lower, upper)
			}
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	p := Policy{Rand: func() float64 { return 0 }}
	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := p.Backoff(attempt, 500*time.Millisecond)
		if d < prev {
			t.Errorf("Backoff(%d) = %v decreased from %v", attempt, d, prev)
		}
		prev = d
	}
	if prev != MaxDelay {
		t.Errorf("large attempts should hit the cap, got %v", prev)
	}
}

func TestDelayHonoursRetryAfter(t *testing.T) {
	p := Policy{Rand: func() float64 { return 0 }}
	err := apperror.New(apperror.KindAPIRateLimited, "")
	err.RetryAfter = 10 * time.Second

	if got := p.Delay(err, 0, time.Second); got != 10*time.Second {
		t.Errorf("Delay = %v, want 10s", got)
	}

	err.RetryAfter = 2 * time.Minute
	if got := p.Delay(err, 0, time.Second); got != MaxDelay {
		t.Errorf("Delay = %v, want cap %v", got, MaxDelay)
	}

	if got := p.Delay(nil, 1, time.Second); got != 2*time.Second {
		t.Errorf("Delay(nil) = %v, want 2s", got)
	}
}
