// Package retry decides whether a classified failure is worth another
// attempt and how long to wait before it.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/capitalize-ai/voice-orchestrator/internal/apperror"
)

const (
	// MaxDelay caps every computed delay.
	MaxDelay = 30 * time.Second

	// JitterFraction is the upper bound of the random jitter relative to
	// the exponential component.
	JitterFraction = 0.1
)

// Policy computes retry decisions and delays. The zero value is usable and
// draws jitter from math/rand/v2.
type Policy struct {
	// Rand returns a value in [0, 1). Tests replace it for determinism.
	Rand func() float64
}

// ShouldRetry reports whether err may be attempted again after attempt
// failed attempts. Errors that need user action, a restart, or should be
// ignored are never retried.
func (p Policy) ShouldRetry(err *apperror.Error, attempt, maxRetries int) bool {
	if err == nil {
		return false
	}
	switch err.Strategy {
	case apperror.StrategyUserAction, apperror.StrategyRestart, apperror.StrategyIgnore:
		return false
	case apperror.StrategyRetry:
		return attempt < maxRetries
	default:
		return false
	}
}

// Backoff returns base·2^attempt plus up to ten percent jitter, capped at
// MaxDelay.
func (p Policy) Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= 2
		if exp >= float64(MaxDelay) {
			return MaxDelay
		}
	}

	d := exp + p.random()*JitterFraction*exp
	if d >= float64(MaxDelay) {
		return MaxDelay
	}
	return time.Duration(d)
}

// Delay is the wait before the next attempt: the larger of the backoff and
// the vendor's Retry-After hint, capped at MaxDelay.
func (p Policy) Delay(err *apperror.Error, attempt int, base time.Duration) time.Duration {
	d := p.Backoff(attempt, base)
	if err != nil && err.RetryAfter > d {
		d = err.RetryAfter
	}
	return min(d, MaxDelay)
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}
