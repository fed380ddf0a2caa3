package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stockpulse/alert-engine/internal/domain"
)

func TestBackoffDelay_Bounds(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	for attempt := 1; attempt <= 12; attempt++ {
		d := backoffDelay(base, max, attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
		if d > max+2*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds max+jitter", attempt, d)
		}
	}
}

func TestBackoffDelay_Monotonic(t *testing.T) {
	base := 1 * time.Second
	max := 60 * time.Second

	// Strip jitter by comparing floor behavior across many samples:
	// attempt 5's minimum possible delay should exceed attempt 1's
	// maximum possible delay, since 2^4 * 1s = 16s >> 1s+jitter(<=2s).
	var maxAt1, minAt5 time.Duration
	for i := 0; i < 50; i++ {
		if d := backoffDelay(base, max, 1); d > maxAt1 {
			maxAt1 = d
		}
	}
	minAt5 = max
	for i := 0; i < 50; i++ {
		if d := backoffDelay(base, max, 5); d < minAt5 {
			minAt5 = d
		}
	}
	if minAt5 <= maxAt1 {
		t.Fatalf("expected attempt 5 floor (%v) > attempt 1 ceiling (%v)", minAt5, maxAt1)
	}
}

func TestClient_SubscribeBeforeConnect_NoPanic(t *testing.T) {
	auth := NewAuthClient("http://example.invalid", time.Second, func(ctx context.Context) (string, error) {
		return "tok", nil
	})
	c := NewClient(auth)

	if err := c.Subscribe(context.Background(), []domain.Symbol{"NSE_EQ|A", "NSE_EQ|A", "NSE_EQ|B"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.subsMu.RLock()
	n := len(c.activeSubs)
	c.subsMu.RUnlock()
	if n != 2 {
		t.Fatalf("expected 2 deduped subscriptions, got %d", n)
	}

	if err := c.Unsubscribe(context.Background(), []domain.Symbol{"NSE_EQ|A"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	c.subsMu.RLock()
	_, stillThere := c.activeSubs["NSE_EQ|A"]
	c.subsMu.RUnlock()
	if stillThere {
		t.Fatalf("expected NSE_EQ|A removed from active subs")
	}
}

func TestClient_InitialStatusDisconnected(t *testing.T) {
	auth := NewAuthClient("http://example.invalid", time.Second, func(ctx context.Context) (string, error) {
		return "tok", nil
	})
	c := NewClient(auth)
	if c.Status() != domain.FeedDisconnected {
		t.Fatalf("expected initial status disconnected, got %v", c.Status())
	}
}
