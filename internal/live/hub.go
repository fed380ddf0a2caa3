package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// SessionCleaner removes a disconnected user's viewer subscriptions
// (cache viewer sets, upstream unsubscribe on 1->0); implemented by
// subscription.Registry.
type SessionCleaner interface {
	RemoveUserSession(ctx context.Context, userID int64) error
}

// ViewerRegistry drives the viewer 0<->1 transition on addStock/
// removeStock and on the initial connect room join, implemented by
// subscription.Registry.
type ViewerRegistry interface {
	AddViewer(ctx context.Context, sym domain.Symbol, userID int64) error
	RemoveViewer(ctx context.Context, sym domain.Symbol, userID int64) error
}

// UserInstruments resolves a connecting user's alert instruments for
// the initial room join (§4.7 step 1); watchlist instruments are owned
// by the external HTTP/catalog surface, out of scope here (§1).
type UserInstruments interface {
	InstrumentsForUser(userID int64) ([]domain.Symbol, error)
}

// TickSnapshot reads cached tick fields for the initial batched send
// (§4.7 step 5); implemented by domain.CacheStore.
type TickSnapshot interface {
	GetLastTicks(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]map[string]string, error)
}

// Metrics is the narrow observability hook a Hub reports through;
// implemented by *metrics.Registry. Nil-safe.
type Metrics interface {
	SetLiveSessionsActive(n int)
}

// Hub rooms connections by user (for alert_status_updated/triggered)
// and by instrument (for tick broadcast), generalizing the teacher
// corpus's hub.go register/unregister/broadcast channel loop to two
// keyed room sets instead of one global broadcast.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	cleaner  SessionCleaner
	registry ViewerRegistry
	alerts   UserInstruments
	snapshot TickSnapshot
	metrics  Metrics

	mu          sync.RWMutex
	byUser      map[int64]map[*Session]struct{}
	byInstrument map[domain.Symbol]map[*Session]struct{}
	sessionCount int

	register   chan *Session
	unregisterCh chan *Session
}

// NewHub wires the disconnect-path cleaner, the hot viewer registry
// addStock/removeStock drives, the user's alert instruments for the
// on-connect room join, and the cache store for the on-connect tick
// snapshot (§4.7). Any of registry/alerts/snapshot may be nil, in
// which case the corresponding step is skipped (useful for tests that
// only exercise tick/alert fan-out).
func NewHub(cleaner SessionCleaner, registry ViewerRegistry, alerts UserInstruments, snapshot TickSnapshot) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:       slog.Default().With("component", "live_hub"),
		cleaner:      cleaner,
		registry:     registry,
		alerts:       alerts,
		snapshot:     snapshot,
		byUser:       make(map[int64]map[*Session]struct{}),
		byInstrument: make(map[domain.Symbol]map[*Session]struct{}),
		register:     make(chan *Session),
		unregisterCh: make(chan *Session),
	}
}

// SetMetrics attaches the observability hook after construction.
func (h *Hub) SetMetrics(m Metrics) {
	h.metrics = m
}

// Run processes register/unregister events until ctx is done. Tick and
// alert events are delivered directly from EmitTick/EmitAlertStatusUpdated
// without going through this loop, since those are read-mostly room
// lookups under an RWMutex rather than a single serialized broadcast
// channel (unlike the teacher's one-global-channel hub, the room split
// here makes per-event-type fan-out cheap enough to do inline).
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case s := <-h.register:
			h.mu.Lock()
			if h.byUser[s.userID] == nil {
				h.byUser[s.userID] = make(map[*Session]struct{})
			}
			h.byUser[s.userID][s] = struct{}{}
			h.sessionCount++
			count := h.sessionCount
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.SetLiveSessionsActive(count)
			}
		case s := <-h.unregisterCh:
			h.mu.Lock()
			delete(h.byUser[s.userID], s)
			lastSessionForUser := len(h.byUser[s.userID]) == 0
			if lastSessionForUser {
				delete(h.byUser, s.userID)
			}
			for sym := range s.watching {
				delete(h.byInstrument[sym], s)
				if len(h.byInstrument[sym]) == 0 {
					delete(h.byInstrument, sym)
				}
			}
			h.sessionCount--
			count := h.sessionCount
			h.mu.Unlock()
			close(s.send)

			if h.metrics != nil {
				h.metrics.SetLiveSessionsActive(count)
			}

			if lastSessionForUser && h.cleaner != nil {
				if err := h.cleaner.RemoveUserSession(context.Background(), s.userID); err != nil {
					h.logger.Error("remove user session failed", "user_id", s.userID, "err", err)
				}
			}
		}
	}
}

// ServeHTTP upgrades an authenticated connection (userID resolved by
// the caller's HTTP layer, out of scope here per §3) into a Session and
// starts its read/write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	s := newSession(userID, conn, h)
	h.register <- s

	go s.writePump()
	go s.readPump()
	go h.connectSnapshot(s, userID)
}

func (h *Hub) unregister(s *Session) {
	h.unregisterCh <- s
}

// addStock joins sym's room and drives the registry's viewer 0->1
// transition (§4.5/§4.7's addStock handling).
func (h *Hub) addStock(s *Session, sym domain.Symbol) {
	h.mu.Lock()
	if _, already := s.watching[sym]; already {
		h.mu.Unlock()
		return
	}
	s.watching[sym] = struct{}{}
	if h.byInstrument[sym] == nil {
		h.byInstrument[sym] = make(map[*Session]struct{})
	}
	h.byInstrument[sym][s] = struct{}{}
	h.mu.Unlock()

	if h.registry != nil {
		if err := h.registry.AddViewer(context.Background(), sym, s.userID); err != nil {
			h.logger.Error("add viewer failed", "symbol", sym, "user_id", s.userID, "err", err)
		}
	}
}

// removeStock leaves sym's room and drives the registry's viewer 1->0
// transition (§4.5/§4.7's removeStock handling).
func (h *Hub) removeStock(s *Session, sym domain.Symbol) {
	h.mu.Lock()
	_, wasWatching := s.watching[sym]
	delete(s.watching, sym)
	delete(h.byInstrument[sym], s)
	if len(h.byInstrument[sym]) == 0 {
		delete(h.byInstrument, sym)
	}
	h.mu.Unlock()

	if wasWatching && h.registry != nil {
		if err := h.registry.RemoveViewer(context.Background(), sym, s.userID); err != nil {
			h.logger.Error("remove viewer failed", "symbol", sym, "user_id", s.userID, "err", err)
		}
	}
}

// connectSnapshot runs §4.7 steps 1-5 for a newly connected session:
// load the user's alert instruments, join their rooms (which registers
// each as a viewer and, on a 0->1 transition, subscribes upstream),
// then push one batched tick snapshot. Watchlist instruments are
// loaded by the external HTTP/catalog surface, out of scope here (§1),
// so this only covers the alert-derived instrument set.
func (h *Hub) connectSnapshot(s *Session, userID int64) {
	if h.alerts == nil {
		return
	}
	syms, err := h.alerts.InstrumentsForUser(userID)
	if err != nil {
		if err != domain.ErrAlertCacheNotReady {
			h.logger.Error("load user instruments failed", "user_id", userID, "err", err)
		}
		return
	}
	if len(syms) == 0 {
		return
	}

	for _, sym := range syms {
		h.addStock(s, sym)
	}

	if h.snapshot == nil {
		return
	}
	ticks, err := h.snapshot.GetLastTicks(context.Background(), syms)
	if err != nil {
		h.logger.Error("load initial tick snapshot failed", "user_id", userID, "err", err)
		return
	}
	for sym, fields := range ticks {
		msg, err := encodeTick(sym, fields)
		if err != nil {
			h.logger.Error("encode initial tick snapshot failed", "symbol", sym, "err", err)
			continue
		}
		s.enqueue(msg)
	}
}

// EmitTick implements domain.LiveFanout.
func (h *Hub) EmitTick(sym domain.Symbol, fields map[string]string) {
	msg, err := encodeTick(sym, fields)
	if err != nil {
		h.logger.Error("encode tick frame failed", "symbol", sym, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.byInstrument[sym] {
		s.enqueue(msg)
	}
}

// EmitAlertStatusUpdated implements domain.LiveFanout.
func (h *Hub) EmitAlertStatusUpdated(userID int64, payload domain.AlertStatusPayload) {
	msg, err := encodeAlertStatusUpdated(payload)
	if err != nil {
		h.logger.Error("encode alert_status_updated frame failed", "user_id", userID, "err", err)
		return
	}
	h.emitToUser(userID, msg)
}

// EmitAlertTriggered implements domain.LiveFanout.
func (h *Hub) EmitAlertTriggered(userID int64, payload domain.AlertTriggeredPayload) {
	msg, err := encodeAlertTriggered(payload)
	if err != nil {
		h.logger.Error("encode alert_triggered frame failed", "user_id", userID, "err", err)
		return
	}
	h.emitToUser(userID, msg)
}

// BroadcastReconnected implements domain.LiveFanout: tells every
// connected client the upstream feed dropped and resumed, so clients
// can treat any ticks they missed during the gap as potentially stale
// (§4.1, no replay is attempted).
func (h *Hub) BroadcastReconnected() {
	msg, err := encodeReconnected()
	if err != nil {
		h.logger.Error("encode ws-reconnected frame failed", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sessions := range h.byUser {
		for s := range sessions {
			s.enqueue(msg)
		}
	}
}

func (h *Hub) emitToUser(userID int64, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.byUser[userID] {
		s.enqueue(msg)
	}
}

var _ domain.LiveFanout = (*Hub)(nil)
