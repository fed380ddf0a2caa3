// Package alertcache implements the in-memory Alert Cache (§4.3): a
// 30-second-refreshed read model of every non-terminal alert, keyed by
// instrument, rebuilt from the durable store with user hydration and
// guarded by a readiness gate until the first refresh completes.
package alertcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// Metrics is the narrow observability hook a Cache reports through;
// implemented by *metrics.Registry. Nil-safe.
type Metrics interface {
	IncAlertCacheRefreshes()
	IncAlertCacheRefreshErrors()
}

type Cache struct {
	repo    domain.AlertRepository
	logger  *slog.Logger
	metrics Metrics

	refreshPeriod time.Duration

	mu    sync.RWMutex
	bySym map[domain.Symbol][]*domain.Alert
	ready bool

	refreshMu     sync.Mutex // single-flight guard for on-demand refresh
	refreshSignal chan struct{}

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewCache(repo domain.AlertRepository, refreshPeriod time.Duration) *Cache {
	return &Cache{
		repo:          repo,
		logger:        slog.Default().With("component", "alert_cache"),
		refreshPeriod: refreshPeriod,
		bySym:         make(map[domain.Symbol][]*domain.Alert),
		refreshSignal: make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
	}
}

// Run performs an immediate synchronous refresh, returning its error
// if that first refresh fails, and then refreshes every refreshPeriod
// and on each TriggerRefresh until ctx is cancelled or Close is called.
func (c *Cache) Run(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopChan:
			return nil
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				c.logger.Error("alert cache refresh failed", "err", err)
			}
		case <-c.refreshSignal:
			if err := c.refresh(ctx); err != nil {
				c.logger.Error("alert cache on-demand refresh failed", "err", err)
			}
		}
	}
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// SetMetrics attaches the observability hook after construction.
func (c *Cache) SetMetrics(m Metrics) {
	c.metrics = m
}

// TriggerRefresh requests an out-of-cycle refresh, e.g. right after a
// new alert is created through the external CRUD surface. It is
// non-blocking and coalesces with any already-pending request.
func (c *Cache) TriggerRefresh() {
	select {
	case c.refreshSignal <- struct{}{}:
	default:
	}
}

func (c *Cache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	alerts, err := c.repo.LoadNonTerminal(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncAlertCacheRefreshErrors()
		}
		return err
	}

	fresh := make(map[domain.Symbol][]*domain.Alert)
	for i := range alerts {
		a := alerts[i]
		fresh[a.InstrumentKey] = append(fresh[a.InstrumentKey], &a)
	}

	c.mu.Lock()
	c.bySym = fresh
	c.ready = true
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncAlertCacheRefreshes()
	}
	return nil
}

// AlertsFor returns the live, mutable slice of alerts for sym. Callers
// in the Alert Engine mutate these pointers in place and must hold no
// external lock across the call; the caller is expected to process the
// returned slice quickly and not retain it past the next refresh.
func (c *Cache) AlertsFor(sym domain.Symbol) ([]*domain.Alert, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return nil, domain.ErrAlertCacheNotReady
	}
	return c.bySym[sym], nil
}

// Instruments returns every distinct instrument currently tracked,
// used by the Subscription Manager's reconciliation pass.
func (c *Cache) Instruments() ([]domain.Symbol, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return nil, domain.ErrAlertCacheNotReady
	}
	out := make([]domain.Symbol, 0, len(c.bySym))
	for sym := range c.bySym {
		out = append(out, sym)
	}
	return out, nil
}

// InstrumentsForUser returns the distinct instruments among userID's
// non-terminal alerts, seeding a live session's initial room set
// (§4.7 step 1). Watchlist instruments are loaded by the external
// HTTP/catalog surface, out of scope here.
func (c *Cache) InstrumentsForUser(userID int64) ([]domain.Symbol, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return nil, domain.ErrAlertCacheNotReady
	}
	var out []domain.Symbol
	for sym, alerts := range c.bySym {
		for _, a := range alerts {
			if a.UserID == userID {
				out = append(out, sym)
				break
			}
		}
	}
	return out, nil
}

// RemoveTerminal drops an alert from its instrument's slice once the
// Alert Engine has transitioned it to a terminal status, so subsequent
// ticks skip it without waiting for the next full refresh.
func (c *Cache) RemoveTerminal(sym domain.Symbol, alertID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.bySym[sym]
	for i, a := range list {
		if a.ID == alertID {
			c.bySym[sym] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}
