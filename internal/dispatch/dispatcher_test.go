package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/cachestore"
	"github.com/stockpulse/alert-engine/internal/domain"
)

type fakeFanout struct {
	mu    sync.Mutex
	ticks []domain.Symbol
}

func (f *fakeFanout) EmitTick(sym domain.Symbol, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, sym)
}
func (f *fakeFanout) EmitAlertStatusUpdated(userID int64, payload domain.AlertStatusPayload)   {}
func (f *fakeFanout) EmitAlertTriggered(userID int64, payload domain.AlertTriggeredPayload)    {}
func (f *fakeFanout) BroadcastReconnected()                                                    {}

func (f *fakeFanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

type fakeEngine struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (f *fakeEngine) HandleTick(ctx context.Context, t domain.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, t)
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

func mustTick(t *testing.T, sym domain.Symbol, ltp float64) domain.Tick {
	t.Helper()
	tick, err := domain.NewTick(sym, ltp, time.Now())
	if err != nil {
		t.Fatalf("NewTick: %v", err)
	}
	return tick
}

func TestDispatcher_DedupsIdenticalConsecutiveLTP(t *testing.T) {
	cache := cachestore.NewMemoryStore()
	fanout := &fakeFanout{}
	engine := &fakeEngine{}

	d, err := NewDispatcher(cache, fanout, engine, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ticks := make(chan domain.Tick, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, ticks)

	ticks <- mustTick(t, "A", 100)
	ticks <- mustTick(t, "A", 100)
	ticks <- mustTick(t, "A", 101)

	deadline := time.After(time.Second)
	for fanout.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 broadcasts (dedup), got %d", fanout.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if fanout.count() != 2 {
		t.Fatalf("expected exactly 2 broadcasts, got %d", fanout.count())
	}
}

func TestDispatcher_FlushesLastTickToCache(t *testing.T) {
	cache := cachestore.NewMemoryStore()
	fanout := &fakeFanout{}
	engine := &fakeEngine{}

	d, err := NewDispatcher(cache, fanout, engine, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ticks := make(chan domain.Tick, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, ticks)

	ticks <- mustTick(t, "A", 55)

	deadline := time.After(time.Second)
	for {
		got, _ := cache.GetLastTicks(context.Background(), []domain.Symbol{"A"})
		if v, ok := got["A"]; ok {
			if v["ltp"] != decimal.NewFromFloat(55).String() {
				t.Fatalf("unexpected cached ltp %v", v)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcher_EngineReceivesEveryTick(t *testing.T) {
	cache := cachestore.NewMemoryStore()
	fanout := &fakeFanout{}
	engine := &fakeEngine{}

	d, err := NewDispatcher(cache, fanout, engine, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ticks := make(chan domain.Tick, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, ticks)

	ticks <- mustTick(t, "A", 100)
	ticks <- mustTick(t, "A", 100)

	deadline := time.After(time.Second)
	for engine.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected engine to see both ticks even when broadcast deduped, got %d", engine.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
