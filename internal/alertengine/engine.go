// Package alertengine implements the Alert Engine (§4.4): for each
// deduped tick it evaluates every non-terminal alert on that
// instrument through domain.Transition, accumulates the resulting
// non-skip updates into one bulk durable write, mutates the cached
// alerts in place, and emits notifications and live events for
// triggered transitions.
package alertengine

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const perSymbolDedupSize = 5000

// AlertCache is the narrow slice of alertcache.Cache the engine needs.
type AlertCache interface {
	AlertsFor(sym domain.Symbol) ([]*domain.Alert, error)
	RemoveTerminal(sym domain.Symbol, alertID int64)
}

// NotificationEnqueuer hands a triggered update off to the
// notification dispatch pipeline (§4.6).
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, n domain.AlertNotification, priority int) error
}

// Metrics is the narrow observability hook an Engine reports through;
// implemented by *metrics.Registry. Nil-safe.
type Metrics interface {
	IncAlertTransition(status string)
	IncDurableBulkWriteErrors()
}

type Engine struct {
	cache     AlertCache
	repo      domain.AlertRepository
	notifier  NotificationEnqueuer
	fanout    domain.LiveFanout
	logger    *slog.Logger
	metrics   Metrics
	dedupLTPs *lru.Cache[domain.Symbol, string]
}

func NewEngine(cache AlertCache, repo domain.AlertRepository, notifier NotificationEnqueuer, fanout domain.LiveFanout) (*Engine, error) {
	dedup, err := lru.New[domain.Symbol, string](perSymbolDedupSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cache:     cache,
		repo:      repo,
		notifier:  notifier,
		fanout:    fanout,
		logger:    slog.Default().With("component", "alert_engine"),
		dedupLTPs: dedup,
	}, nil
}

// SetMetrics attaches the observability hook after construction.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// HandleTick is the dispatcher's per-tick entry point. It never
// returns an error: all failures are logged, since there is no caller
// positioned to retry a single tick's evaluation.
func (e *Engine) HandleTick(ctx context.Context, t domain.Tick) {
	ltpStr := t.LTP.String()
	if last, ok := e.dedupLTPs.Get(t.Symbol); ok && last == ltpStr {
		return
	}
	e.dedupLTPs.Add(t.Symbol, ltpStr)

	alerts, err := e.cache.AlertsFor(t.Symbol)
	if err != nil {
		if err != domain.ErrAlertCacheNotReady {
			e.logger.Error("alerts for symbol failed", "symbol", t.Symbol, "err", err)
		}
		return
	}
	if len(alerts) == 0 {
		return
	}

	var updates []domain.AlertUpdate
	for _, a := range alerts {
		newStatus, entryCrossed := domain.Transition(a, t.LTP)
		if domain.ShouldSkip(a, newStatus, t.LTP, entryCrossed) {
			continue
		}

		oldStatus := a.Status
		ltp := t.LTP
		a.Status = newStatus
		a.LastLTP = &ltp
		a.EntryCrossed = entryCrossed
		a.UpdatedAt = t.Time

		update := domain.AlertUpdate{
			Alert:        a,
			OldStatus:    oldStatus,
			NewStatus:    newStatus,
			LTP:          t.LTP,
			EntryCrossed: a.EntryCrossed,
		}
		updates = append(updates, update)

		if e.metrics != nil {
			e.metrics.IncAlertTransition(string(newStatus))
		}

		e.emitStatusUpdated(a, update)

		if newStatus.IsTerminal() {
			e.cache.RemoveTerminal(t.Symbol, a.ID)
		}

		if update.Triggered() {
			e.enqueueNotification(ctx, a, update)
		}
	}

	if len(updates) == 0 {
		return
	}
	if err := e.repo.BulkWrite(ctx, updates); err != nil {
		e.logger.Error("bulk write alert updates failed", "symbol", t.Symbol, "count", len(updates), "err", err)
		if e.metrics != nil {
			e.metrics.IncDurableBulkWriteErrors()
		}
	}
}

func (e *Engine) emitStatusUpdated(a *domain.Alert, u domain.AlertUpdate) {
	if u.OldStatus == u.NewStatus {
		return
	}
	e.fanout.EmitAlertStatusUpdated(a.UserID, domain.AlertStatusPayload{
		AlertID:      a.ID,
		Status:       a.Status,
		Symbol:       a.InstrumentKey,
		Price:        u.LTP,
		Position:     a.Position,
		TradeType:    a.TradeType,
		EntryCrossed: a.EntryCrossed,
		Timestamp:    a.UpdatedAt,
	})
	if u.NewStatus.IsTerminal() {
		e.fanout.EmitAlertTriggered(a.UserID, domain.AlertTriggeredPayload{
			AlertID:       a.ID,
			TradingSymbol: a.TradingSymbol,
			Status:        a.Status,
		})
	}
}

func (e *Engine) enqueueNotification(ctx context.Context, a *domain.Alert, u domain.AlertUpdate) {
	n := domain.AlertNotification{
		AlertID:       a.ID,
		UserID:        a.UserID,
		TradingSymbol: a.TradingSymbol,
		Status:        u.NewStatus,
		CurrentPrice:  u.LTP,
		EntryPrice:    a.EntryPrice,
		StopLoss:      a.StopLoss,
		TargetPrice:   a.TargetPrice,
		Position:      a.Position,
		TradeType:     a.TradeType,
		Level:         a.Level,
		TriggeredAt:   a.UpdatedAt,
		Priority:      u.NotificationPriority(),
	}
	if err := e.notifier.Enqueue(ctx, n, n.Priority); err != nil {
		e.logger.Error("enqueue notification failed", "alert_id", a.ID, "err", err)
	}
}
