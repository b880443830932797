package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGovernor(limits Limits) (*Governor, *fakeClock) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	return NewGovernor(limits, clk.Now), clk
}

func TestReserveWaitsAfterRequestLimit(t *testing.T) {
	g, _ := newTestGovernor(Limits{RequestsPerMinute: 60, TokensPerMinute: 1_000_000})

	admitted := 0
	for i := 0; i < 60; i++ {
		if g.Reserve(10) == 0 {
			admitted++
		}
	}
	if admitted != 55 {
		t.Errorf("admitted %d requests, want 55 (limit minus headroom)", admitted)
	}
	if wait := g.Reserve(10); wait <= 0 {
		t.Errorf("Reserve after limit = %v, want > 0", wait)
	}
}

func TestReserveWaitIsRemainderOfWindow(t *testing.T) {
	g, clk := newTestGovernor(Limits{RequestsPerMinute: 6})
	if g.Reserve(0) != 0 {
		t.Fatal("first request should be admitted")
	}
	clk.Advance(20 * time.Second)
	if wait := g.Reserve(0); wait != 40*time.Second {
		t.Errorf("wait = %v, want 40s", wait)
	}

	clk.Advance(40 * time.Second)
	if wait := g.Reserve(0); wait != 0 {
		t.Errorf("after reset wait = %v, want 0", wait)
	}
	if s := g.Snapshot(); s.RequestsInWindow != 1 {
		t.Errorf("RequestsInWindow = %d, want 1", s.RequestsInWindow)
	}
}

func TestReserveTokenBudget(t *testing.T) {
	g, _ := newTestGovernor(Limits{RequestsPerMinute: 100, TokensPerMinute: 1000})
	if g.Reserve(600) != 0 {
		t.Fatal("first request should be admitted")
	}
	if g.Reserve(400) == 0 {
		t.Error("600+400 reaches the token limit and should wait")
	}
	if g.Reserve(300) != 0 {
		t.Error("600+300 fits and should be admitted")
	}
	if s := g.Snapshot(); s.TokensInWindow != 900 {
		t.Errorf("TokensInWindow = %d, want 900", s.TokensInWindow)
	}
}

func TestReserveOversizedRequestInEmptyWindow(t *testing.T) {
	g, _ := newTestGovernor(Limits{TokensPerMinute: 100})
	if wait := g.Reserve(5000); wait != 0 {
		t.Errorf("empty window should admit an oversized request, got wait %v", wait)
	}
	if wait := g.Reserve(1); wait == 0 {
		t.Error("window is over budget and should wait")
	}
}

func TestReserveSmallLimit(t *testing.T) {
	g, _ := newTestGovernor(Limits{RequestsPerMinute: 3})
	if g.Reserve(0) != 0 {
		t.Error("a limit below the headroom should still admit one request")
	}
	if g.Reserve(0) == 0 {
		t.Error("second request should wait")
	}
}

func TestObserveOnlyTightens(t *testing.T) {
	g, _ := newTestGovernor(Limits{RequestsPerMinute: 60, TokensPerMinute: 10000})
	g.Reserve(100)

	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "10")
	h.Set("x-ratelimit-remaining-tokens", "9950")
	g.Observe(h)

	s := g.Snapshot()
	if s.RequestsInWindow != 50 {
		t.Errorf("RequestsInWindow = %d, want 50", s.RequestsInWindow)
	}
	if s.TokensInWindow != 100 {
		t.Errorf("TokensInWindow = %d, want 100 (header reports less usage)", s.TokensInWindow)
	}
}
