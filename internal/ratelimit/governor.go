// Package ratelimit implements the per-queue rate governor: a one-minute
// accounting window of request and estimated-token counts that tells the
// caller how long to wait before dispatching.
//
// The window is reset wholesale once a minute has elapsed rather than
// sliding. Near a boundary this can admit up to twice the limit within a
// sixty-second span; vendor 429 responses are still absorbed by the retry
// policy.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Window is the accounting period.
	Window = time.Minute

	// RequestHeadroom is how far below the request limit the governor
	// starts holding requests back.
	RequestHeadroom = 5
)

// Limits configures a governor. Zero disables a dimension.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// State is a snapshot of the current window.
type State struct {
	WindowStart       time.Time `json:"window_start"`
	RequestsInWindow  int       `json:"requests_in_window"`
	TokensInWindow    int       `json:"tokens_in_window"`
	RequestsPerMinute int       `json:"requests_per_minute"`
	TokensPerMinute   int       `json:"tokens_per_minute"`
}

// Governor tracks one rate window. It is safe for concurrent use so that
// two queues may share one governor when explicitly configured to.
type Governor struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time
	state  State
}

// NewGovernor creates a governor; clk defaults to time.Now.
func NewGovernor(limits Limits, clk func() time.Time) *Governor {
	if clk == nil {
		clk = time.Now
	}
	return &Governor{
		limits: limits,
		now:    clk,
		state: State{
			WindowStart:       clk(),
			RequestsPerMinute: limits.RequestsPerMinute,
			TokensPerMinute:   limits.TokensPerMinute,
		},
	}
}

// Reserve admits one request of estimatedTokens. It returns zero and
// records the request when admitted; otherwise it returns how long the
// caller must wait for the window to reset and records nothing.
func (g *Governor) Reserve(estimatedTokens int) time.Duration {
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.resetIfElapsed(now)

	if g.mustWait(estimatedTokens) {
		wait := Window - now.Sub(g.state.WindowStart)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait
	}

	g.state.RequestsInWindow++
	g.state.TokensInWindow += estimatedTokens
	return 0
}

func (g *Governor) mustWait(estimatedTokens int) bool {
	if limit := g.limits.RequestsPerMinute; limit > 0 {
		threshold := max(limit-RequestHeadroom, 1)
		if g.state.RequestsInWindow >= threshold {
			return true
		}
	}
	if limit := g.limits.TokensPerMinute; limit > 0 {
		// An empty window always admits, otherwise a single request larger
		// than the whole budget would wait forever.
		if g.state.RequestsInWindow > 0 && g.state.TokensInWindow+estimatedTokens >= limit {
			return true
		}
	}
	return false
}

func (g *Governor) resetIfElapsed(now time.Time) {
	if now.Sub(g.state.WindowStart) >= Window {
		g.state.WindowStart = now
		g.state.RequestsInWindow = 0
		g.state.TokensInWindow = 0
	}
}

// Observe corrects the counters from vendor rate-limit headers. Counters
// only ever move up, so a stale header cannot loosen the governor.
func (g *Governor) Observe(h http.Header) {
	if h == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetIfElapsed(g.now())

	if remaining, ok := headerInt(h, "X-Ratelimit-Remaining-Requests"); ok && g.limits.RequestsPerMinute > 0 {
		used := g.limits.RequestsPerMinute - remaining
		if used > g.state.RequestsInWindow {
			g.state.RequestsInWindow = used
		}
	}
	if remaining, ok := headerInt(h, "X-Ratelimit-Remaining-Tokens"); ok && g.limits.TokensPerMinute > 0 {
		used := g.limits.TokensPerMinute - remaining
		if used > g.state.TokensInWindow {
			g.state.TokensInWindow = used
		}
	}
}

// Snapshot returns the current window state.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfElapsed(g.now())
	return g.state
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
