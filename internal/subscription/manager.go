package subscription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// Manager is the Alert-Subscription Manager (§4.5): every period it
// diffs the durable store's distinct non-terminal-alert instruments
// against the cache store's persistent set, updates the persistent
// set, and subscribes/unsubscribes the upstream feed for whatever
// changed, skipping symbols still held open by a viewer.
type Manager struct {
	cache  domain.CacheStore
	feed   domain.FeedClient
	repo   domain.AlertRepository
	logger *slog.Logger
	period time.Duration

	runMu sync.Mutex // single-flight guard, per the idempotence law in §8

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewManager(cache domain.CacheStore, feed domain.FeedClient, repo domain.AlertRepository, period time.Duration) *Manager {
	return &Manager{
		cache:    cache,
		feed:     feed,
		repo:     repo,
		logger:   slog.Default().With("component", "subscription_manager"),
		period:   period,
		stopChan: make(chan struct{}),
	}
}

func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil {
				m.logger.Error("subscription reconcile failed", "err", err)
			}
		}
	}
}

func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Reconcile performs one pass. It is safe to call concurrently or
// repeatedly: a pass that finds the persistent set already correct is
// a no-op, satisfying the "running twice has the same effect as
// running once" law in §8.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	needed, err := m.repo.DistinctInstruments(ctx)
	if err != nil {
		return err
	}
	neededSet := make(map[domain.Symbol]struct{}, len(needed))
	for _, s := range needed {
		neededSet[s] = struct{}{}
	}

	current, err := m.cache.PersistentMembers(ctx)
	if err != nil {
		return err
	}
	currentSet := make(map[domain.Symbol]struct{}, len(current))
	for _, s := range current {
		currentSet[s] = struct{}{}
	}

	var toAdd, toRemove []domain.Symbol
	for s := range neededSet {
		if _, ok := currentSet[s]; !ok {
			toAdd = append(toAdd, s)
		}
	}
	for s := range currentSet {
		if _, ok := neededSet[s]; !ok {
			toRemove = append(toRemove, s)
		}
	}

	if len(toAdd) > 0 {
		if err := m.cache.AddPersistent(ctx, toAdd); err != nil {
			return err
		}
		if err := m.feed.Subscribe(ctx, toAdd); err != nil {
			m.logger.Error("subscribe newly-persistent instruments failed", "symbols", toAdd, "err", err)
		}
	}

	if len(toRemove) > 0 {
		counts, err := m.cache.ViewerCounts(ctx, toRemove)
		if err != nil {
			m.logger.Error("viewer counts check failed during reconcile", "symbols", toRemove, "err", err)
			return nil
		}
		if err := m.cache.RemovePersistent(ctx, toRemove); err != nil {
			m.logger.Error("remove persistent failed", "symbols", toRemove, "err", err)
			return nil
		}

		// Symbols still held open by a viewer stay subscribed; only
		// the ones with zero viewers are batch-unsubscribed (§4.5
		// step 4: one Unsubscribe call for the whole slice).
		var toUnsubscribe []domain.Symbol
		for _, sym := range toRemove {
			if counts[sym] == 0 {
				toUnsubscribe = append(toUnsubscribe, sym)
			}
		}
		if len(toUnsubscribe) > 0 {
			if err := m.feed.Unsubscribe(ctx, toUnsubscribe); err != nil {
				m.logger.Error("unsubscribe no-longer-persistent instruments failed", "symbols", toUnsubscribe, "err", err)
			}
		}
	}

	return nil
}
