package alertengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpulse/alert-engine/internal/domain"
)

type fakeCache struct {
	mu      sync.Mutex
	alerts  map[domain.Symbol][]*domain.Alert
	removed []int64
	err     error
}

func (c *fakeCache) AlertsFor(sym domain.Symbol) ([]*domain.Alert, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.alerts[sym], nil
}

func (c *fakeCache) RemoveTerminal(sym domain.Symbol, alertID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, alertID)
}

type fakeRepo struct {
	mu      sync.Mutex
	updates []domain.AlertUpdate
	err     error
}

func (r *fakeRepo) LoadNonTerminal(ctx context.Context) ([]domain.Alert, error) { return nil, nil }

func (r *fakeRepo) BulkWrite(ctx context.Context, updates []domain.AlertUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updates...)
	return r.err
}

func (r *fakeRepo) DistinctInstruments(ctx context.Context) ([]domain.Symbol, error) { return nil, nil }
func (r *fakeRepo) CountNonTerminal(ctx context.Context, sym domain.Symbol) (int, error) {
	return 0, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	enqueued  []domain.AlertNotification
	priorites []int
}

func (n *fakeNotifier) Enqueue(ctx context.Context, note domain.AlertNotification, priority int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueued = append(n.enqueued, note)
	n.priorites = append(n.priorites, priority)
	return nil
}

type fakeFanout struct {
	mu           sync.Mutex
	statusEvents []domain.AlertStatusPayload
	triggered    []domain.AlertTriggeredPayload
}

func (f *fakeFanout) EmitTick(sym domain.Symbol, fields map[string]string) {}

func (f *fakeFanout) EmitAlertStatusUpdated(userID int64, payload domain.AlertStatusPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusEvents = append(f.statusEvents, payload)
}

func (f *fakeFanout) EmitAlertTriggered(userID int64, payload domain.AlertTriggeredPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, payload)
}

func (f *fakeFanout) BroadcastReconnected() {}

func longAlert() *domain.Alert {
	return &domain.Alert{
		ID:            1,
		UserID:        7,
		InstrumentKey: "NSE_EQ|X",
		TradingSymbol: "X",
		Position:      domain.PositionLong,
		EntryPrice:    decimal.NewFromFloat(100),
		StopLoss:      decimal.NewFromFloat(95),
		TargetPrice:   decimal.NewFromFloat(120),
		Status:        domain.StatusPending,
	}
}

func newTestEngine(cache *fakeCache, repo *fakeRepo, notifier *fakeNotifier, fanout *fakeFanout) *Engine {
	e, err := NewEngine(cache, repo, notifier, fanout)
	if err != nil {
		panic(err)
	}
	return e
}

func TestHandleTick_EntryHitEnqueuesNotificationAndWrites(t *testing.T) {
	alert := longAlert()
	cache := &fakeCache{alerts: map[domain.Symbol][]*domain.Alert{"NSE_EQ|X": {alert}}}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	fanout := &fakeFanout{}
	e := newTestEngine(cache, repo, notifier, fanout)

	e.HandleTick(context.Background(), domain.Tick{
		Symbol: "NSE_EQ|X",
		LTP:    decimal.NewFromFloat(98),
		Time:   time.Now(),
	})

	if alert.Status != domain.StatusEnter {
		t.Fatalf("expected status enter, got %s", alert.Status)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one bulk-write update, got %d", len(repo.updates))
	}
	if len(notifier.enqueued) != 1 {
		t.Fatalf("expected one notification enqueued, got %d", len(notifier.enqueued))
	}
	if len(fanout.statusEvents) != 1 {
		t.Fatalf("expected one status event, got %d", len(fanout.statusEvents))
	}
	if len(cache.removed) != 0 {
		t.Fatalf("entry is not terminal, expected no removal, got %v", cache.removed)
	}
}

func TestHandleTick_StopLossHitRemovesFromCache(t *testing.T) {
	alert := longAlert()
	alert.Status = domain.StatusRunning
	ltp := decimal.NewFromFloat(100)
	alert.LastLTP = &ltp
	alert.EntryCrossed = true
	cache := &fakeCache{alerts: map[domain.Symbol][]*domain.Alert{"NSE_EQ|X": {alert}}}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	fanout := &fakeFanout{}
	e := newTestEngine(cache, repo, notifier, fanout)

	e.HandleTick(context.Background(), domain.Tick{
		Symbol: "NSE_EQ|X",
		LTP:    decimal.NewFromFloat(94),
		Time:   time.Now(),
	})

	if alert.Status != domain.StatusSLHit {
		t.Fatalf("expected status slHit, got %s", alert.Status)
	}
	if len(cache.removed) != 1 || cache.removed[0] != alert.ID {
		t.Fatalf("expected terminal alert removed from cache, got %v", cache.removed)
	}
	if len(notifier.enqueued) != 1 || notifier.priorites[0] != 1 {
		t.Fatalf("expected terminal notification at priority 1, got %v", notifier.priorites)
	}
	if len(fanout.triggered) != 1 {
		t.Fatalf("expected one triggered event, got %d", len(fanout.triggered))
	}
}

func TestHandleTick_SkippedTransitionDoesNotWriteOrNotify(t *testing.T) {
	alert := longAlert()
	alert.Status = domain.StatusNearEntry
	lastLTP := decimal.NewFromFloat(101)
	alert.LastLTP = &lastLTP
	cache := &fakeCache{alerts: map[domain.Symbol][]*domain.Alert{"NSE_EQ|X": {alert}}}
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	fanout := &fakeFanout{}
	e := newTestEngine(cache, repo, notifier, fanout)

	// Same status (nearEntry, within 1% of entry) and the same LTP
	// already on record: an exact no-op per ShouldSkip.
	e.HandleTick(context.Background(), domain.Tick{
		Symbol: "NSE_EQ|X",
		LTP:    decimal.NewFromFloat(101),
		Time:   time.Now(),
	})

	if alert.Status != domain.StatusNearEntry {
		t.Fatalf("expected status unchanged at nearEntry, got %s", alert.Status)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("expected no bulk write for a skipped transition, got %d", len(repo.updates))
	}
	if len(notifier.enqueued) != 0 {
		t.Fatalf("expected no notification for a skipped transition, got %d", len(notifier.enqueued))
	}
}

func TestHandleTick_DuplicateLTPIsDeduped(t *testing.T) {
	alert := longAlert()
	cache := &fakeCache{alerts: map[domain.Symbol][]*domain.Alert{"NSE_EQ|X": {alert}}}
	repo := &fakeRepo{}
	e := newTestEngine(cache, repo, &fakeNotifier{}, &fakeFanout{})

	tick := domain.Tick{Symbol: "NSE_EQ|X", LTP: decimal.NewFromFloat(100), Time: time.Now()}
	e.HandleTick(context.Background(), tick)
	firstWrites := len(repo.updates)

	e.HandleTick(context.Background(), tick)

	if len(repo.updates) != firstWrites {
		t.Fatalf("expected duplicate identical LTP to be deduped, got %d additional writes", len(repo.updates)-firstWrites)
	}
}

func TestHandleTick_CacheNotReadyIsSilent(t *testing.T) {
	cache := &fakeCache{err: domain.ErrAlertCacheNotReady}
	repo := &fakeRepo{}
	e := newTestEngine(cache, repo, &fakeNotifier{}, &fakeFanout{})

	e.HandleTick(context.Background(), domain.Tick{Symbol: "NSE_EQ|X", LTP: decimal.NewFromFloat(1), Time: time.Now()})

	if len(repo.updates) != 0 {
		t.Fatalf("expected no writes while cache is not ready, got %d", len(repo.updates))
	}
}
