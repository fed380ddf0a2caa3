// Package dispatch implements the Tick Dispatcher (§4.2): it receives
// decoded ticks off the Feed Client's channel, coalesces them into a
// 100ms-period buffered write to the cache store, deduplicates
// identical consecutive LTPs per instrument, fans the tick out to
// viewer rooms, and hands the tick to the Alert Engine without
// blocking the hot path.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stockpulse/alert-engine/internal/domain"
)

const (
	lastTickTTL          = 24 * time.Hour
	broadcastDedupSize   = 5000
	alertEngineQueueSize = 2048
)

// AlertEngine is the downstream consumer of deduped ticks (§4.4). It
// is defined here, not in domain, to keep the dispatcher's dependency
// on the engine a narrow one-method interface.
type AlertEngine interface {
	HandleTick(ctx context.Context, t domain.Tick)
}

// Metrics is the narrow observability hook the dispatcher reports
// through; implemented by *metrics.Registry. Nil-safe: a Dispatcher
// built without WithMetrics simply skips these calls.
type Metrics interface {
	IncTicksBroadcast()
	IncTicksDeduped()
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type Dispatcher struct {
	cache   domain.CacheStore
	fanout  domain.LiveFanout
	engine  AlertEngine
	logger  *slog.Logger
	metrics Metrics

	flushPeriod time.Duration

	mu      sync.Mutex
	pending map[domain.Symbol]domain.Tick

	lastBroadcastLtp *lru.Cache[domain.Symbol, string]

	engineQueue chan domain.Tick

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewDispatcher(cache domain.CacheStore, fanout domain.LiveFanout, engine AlertEngine, flushPeriod time.Duration, opts ...Option) (*Dispatcher, error) {
	lastBroadcast, err := lru.New[domain.Symbol, string](broadcastDedupSize)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cache:            cache,
		fanout:           fanout,
		engine:           engine,
		logger:           slog.Default().With("component", "dispatcher"),
		flushPeriod:      flushPeriod,
		pending:          make(map[domain.Symbol]domain.Tick),
		lastBroadcastLtp: lastBroadcast,
		engineQueue:      make(chan domain.Tick, alertEngineQueueSize),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run consumes ticks from the feed client until ctx is cancelled. It
// starts the periodic flush loop and the engine hand-off worker as
// companion goroutines.
func (d *Dispatcher) Run(ctx context.Context, ticks <-chan domain.Tick) {
	go d.flushLoop(ctx)
	go d.engineLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			d.handleTick(t)
		}
	}
}

// Close stops the dispatcher's loops and drains the tick buffer with a
// final flush to the cache store.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
		d.flush(context.Background())
	})
}

func (d *Dispatcher) handleTick(t domain.Tick) {
	d.mu.Lock()
	d.pending[t.Symbol] = t
	d.mu.Unlock()

	last, ok := d.lastBroadcastLtp.Get(t.Symbol)
	ltpStr := t.LTP.String()
	if ok && last == ltpStr {
		if d.metrics != nil {
			d.metrics.IncTicksDeduped()
		}
	} else {
		d.lastBroadcastLtp.Add(t.Symbol, ltpStr)

		d.fanout.EmitTick(t.Symbol, tickFields(t))
		if d.metrics != nil {
			d.metrics.IncTicksBroadcast()
		}
	}

	select {
	case d.engineQueue <- t:
	default:
		d.logger.Warn("alert engine queue full, dropping tick for instrument", "symbol", t.Symbol)
	}
}

func (d *Dispatcher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(d.flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.flush(ctx)
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = make(map[domain.Symbol]domain.Tick, len(batch))
	d.mu.Unlock()

	fields := make(map[domain.Symbol]map[string]string, len(batch))
	for sym, t := range batch {
		fields[sym] = tickFields(t)
	}
	if err := d.cache.SetLastTicks(ctx, fields, lastTickTTL); err != nil {
		d.logger.Error("flush last ticks failed", "count", len(fields), "err", err)
	}
}

func (d *Dispatcher) engineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case t := <-d.engineQueue:
			d.engine.HandleTick(ctx, t)
		}
	}
}

func tickFields(t domain.Tick) map[string]string {
	fields := map[string]string{
		"ltp": t.LTP.String(),
		"ts":  t.Time.Format(time.RFC3339Nano),
	}
	if t.Open != nil {
		fields["open"] = t.Open.String()
	}
	if t.High != nil {
		fields["high"] = t.High.String()
	}
	if t.Low != nil {
		fields["low"] = t.Low.String()
	}
	if t.Close != nil {
		fields["close"] = t.Close.String()
	}
	return fields
}
