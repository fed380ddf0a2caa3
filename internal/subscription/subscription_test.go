package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stockpulse/alert-engine/internal/cachestore"
	"github.com/stockpulse/alert-engine/internal/domain"
)

type fakeFeed struct {
	mu     sync.Mutex
	subs   map[domain.Symbol]int
	status domain.FeedStatus
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[domain.Symbol]int), status: domain.FeedOpen}
}

func (f *fakeFeed) Connect(ctx context.Context) error { return nil }
func (f *fakeFeed) Subscribe(ctx context.Context, syms []domain.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range syms {
		f.subs[s]++
	}
	return nil
}
func (f *fakeFeed) Unsubscribe(ctx context.Context, syms []domain.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range syms {
		delete(f.subs, s)
	}
	return nil
}
func (f *fakeFeed) Status() domain.FeedStatus             { return f.status }
func (f *fakeFeed) Ticks() <-chan domain.Tick             { return nil }
func (f *fakeFeed) Reconnects() <-chan struct{}           { return nil }
func (f *fakeFeed) Close() error                          { return nil }

func (f *fakeFeed) isSubscribed(sym domain.Symbol) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[sym]
	return ok
}

func TestRegistry_ViewerZeroToOneSubscribes(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemoryStore()
	feed := newFakeFeed()
	reg := NewRegistry(cache, feed)

	if err := reg.AddViewer(ctx, "A", 1); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	if !feed.isSubscribed("A") {
		t.Fatalf("expected upstream subscribe on first viewer")
	}

	// second viewer must not resend subscribe (registry only acts on
	// the 0->1 transition), but the test only asserts no error/panic.
	if err := reg.AddViewer(ctx, "A", 2); err != nil {
		t.Fatalf("add second viewer: %v", err)
	}
}

func TestRegistry_ViewerOneToZeroUnsubscribesWhenNotPersistent(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemoryStore()
	feed := newFakeFeed()
	reg := NewRegistry(cache, feed)

	reg.AddViewer(ctx, "A", 1)
	if err := reg.RemoveViewer(ctx, "A", 1); err != nil {
		t.Fatalf("remove viewer: %v", err)
	}
	if feed.isSubscribed("A") {
		t.Fatalf("expected unsubscribe once last viewer leaves")
	}
}

func TestRegistry_PersistentSymbolStaysSubscribedAfterViewerLeaves(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemoryStore()
	feed := newFakeFeed()
	reg := NewRegistry(cache, feed)

	cache.AddPersistent(ctx, []domain.Symbol{"A"})
	reg.AddViewer(ctx, "A", 1)
	if err := reg.RemoveViewer(ctx, "A", 1); err != nil {
		t.Fatalf("remove viewer: %v", err)
	}
	// The fake feed only tracks explicit Subscribe/Unsubscribe calls;
	// since A is persistent, RemoveViewer must not issue Unsubscribe.
	// AddViewer issued the only Subscribe call, so A should still be
	// considered subscribed.
	if !feed.isSubscribed("A") {
		t.Fatalf("expected A to remain subscribed due to persistent membership")
	}
}

func TestManager_ReconcileAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemoryStore()
	feed := newFakeFeed()
	repo := &fakeRepoForManager{instruments: []domain.Symbol{"A", "B"}}

	mgr := NewManager(cache, feed, repo, time.Hour)
	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !feed.isSubscribed("A") || !feed.isSubscribed("B") {
		t.Fatalf("expected A and B subscribed after first reconcile")
	}

	repo.instruments = []domain.Symbol{"B"}
	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile 2: %v", err)
	}
	if feed.isSubscribed("A") {
		t.Fatalf("expected A unsubscribed after dropping out of needed set")
	}
	if !feed.isSubscribed("B") {
		t.Fatalf("expected B to remain subscribed")
	}
}

func TestManager_ReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := cachestore.NewMemoryStore()
	feed := newFakeFeed()
	repo := &fakeRepoForManager{instruments: []domain.Symbol{"A"}}

	mgr := NewManager(cache, feed, repo, time.Hour)
	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile 1: %v", err)
	}
	members, _ := cache.PersistentMembers(ctx)
	if len(members) != 1 {
		t.Fatalf("expected 1 persistent member, got %d", len(members))
	}

	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile 2: %v", err)
	}
	members, _ = cache.PersistentMembers(ctx)
	if len(members) != 1 {
		t.Fatalf("expected persistent members unchanged after second reconcile, got %d", len(members))
	}
}

type fakeRepoForManager struct {
	instruments []domain.Symbol
}

func (r *fakeRepoForManager) LoadNonTerminal(ctx context.Context) ([]domain.Alert, error) {
	return nil, nil
}
func (r *fakeRepoForManager) BulkWrite(ctx context.Context, updates []domain.AlertUpdate) error {
	return nil
}
func (r *fakeRepoForManager) DistinctInstruments(ctx context.Context) ([]domain.Symbol, error) {
	return r.instruments, nil
}
func (r *fakeRepoForManager) CountNonTerminal(ctx context.Context, sym domain.Symbol) (int, error) {
	return 0, nil
}
