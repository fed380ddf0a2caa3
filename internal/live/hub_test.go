package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockpulse/alert-engine/internal/domain"
)

type fakeCleaner struct {
	removed []int64
}

func (f *fakeCleaner) RemoveUserSession(ctx context.Context, userID int64) error {
	f.removed = append(f.removed, userID)
	return nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	added   []domain.Symbol
	removed []domain.Symbol
}

func (f *fakeRegistry) AddViewer(ctx context.Context, sym domain.Symbol, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, sym)
	return nil
}

func (f *fakeRegistry) RemoveViewer(ctx context.Context, sym domain.Symbol, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sym)
	return nil
}

type fakeUserInstruments struct {
	syms []domain.Symbol
}

func (f fakeUserInstruments) InstrumentsForUser(userID int64) ([]domain.Symbol, error) {
	return f.syms, nil
}

type fakeSnapshot struct {
	ticks map[domain.Symbol]map[string]string
}

func (f fakeSnapshot) GetLastTicks(ctx context.Context, syms []domain.Symbol) (map[domain.Symbol]map[string]string, error) {
	return f.ticks, nil
}

func newTestHubServer(t *testing.T, hub *Hub, userID int64) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, userID)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHub_TickFanOutOnlyToWatchers(t *testing.T) {
	hub := NewHub(nil, nil, nil, nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv, wsURL := newTestHubServer(t, hub, 1)
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	if err := conn.WriteJSON(inboundCommand{Type: CommandAddStock, Symbol: "NSE_EQ|A"}); err != nil {
		t.Fatalf("write addStock: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	hub.EmitTick("NSE_EQ|B", map[string]string{"ltp": "100"})
	hub.EmitTick("NSE_EQ|A", map[string]string{"ltp": "200"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != EventTick || frame.Symbol != "NSE_EQ|A" {
		t.Fatalf("expected tick for NSE_EQ|A, got %+v", frame)
	}
}

func TestHub_AlertEventsRoomedByUser(t *testing.T) {
	hub := NewHub(nil, nil, nil, nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv1, wsURL1 := newTestHubServer(t, hub, 10)
	defer srv1.Close()
	srv2, wsURL2 := newTestHubServer(t, hub, 20)
	defer srv2.Close()

	conn1 := dial(t, wsURL1)
	defer conn1.Close()
	conn2 := dial(t, wsURL2)
	defer conn2.Close()

	time.Sleep(20 * time.Millisecond)

	hub.EmitAlertStatusUpdated(10, domain.AlertStatusPayload{AlertID: 5, Status: domain.StatusEnter})

	conn1.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn1.ReadMessage()
	if err != nil {
		t.Fatalf("conn1 read: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != EventAlertStatusUpdated {
		t.Fatalf("expected alert_status_updated, got %+v", frame)
	}

	conn2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn2.ReadMessage(); err == nil {
		t.Fatalf("expected user 20 to receive nothing, got a message")
	}
}

func TestHub_DisconnectTriggersSessionCleanup(t *testing.T) {
	cleaner := &fakeCleaner{}
	hub := NewHub(cleaner, nil, nil, nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv, wsURL := newTestHubServer(t, hub, 99)
	defer srv.Close()

	conn := dial(t, wsURL)
	time.Sleep(20 * time.Millisecond)
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for len(cleaner.removed) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(cleaner.removed) != 1 || cleaner.removed[0] != 99 {
		t.Fatalf("expected cleanup for user 99, got %v", cleaner.removed)
	}
}

func TestHub_AddRemoveStockDrivesViewerRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	hub := NewHub(nil, reg, nil, nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv, wsURL := newTestHubServer(t, hub, 7)
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	if err := conn.WriteJSON(inboundCommand{Type: CommandAddStock, Symbol: "NSE_EQ|C"}); err != nil {
		t.Fatalf("write addStock: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := conn.WriteJSON(inboundCommand{Type: CommandRemoveStock, Symbol: "NSE_EQ|C"}); err != nil {
		t.Fatalf("write removeStock: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.added) != 1 || reg.added[0] != "NSE_EQ|C" {
		t.Fatalf("expected AddViewer for NSE_EQ|C, got %v", reg.added)
	}
	if len(reg.removed) != 1 || reg.removed[0] != "NSE_EQ|C" {
		t.Fatalf("expected RemoveViewer for NSE_EQ|C, got %v", reg.removed)
	}
}

func TestHub_ConnectLoadsInstrumentsAndSendsSnapshot(t *testing.T) {
	reg := &fakeRegistry{}
	alerts := fakeUserInstruments{syms: []domain.Symbol{"NSE_EQ|D"}}
	snapshot := fakeSnapshot{ticks: map[domain.Symbol]map[string]string{
		"NSE_EQ|D": {"ltp": "150"},
	}}
	hub := NewHub(nil, reg, alerts, snapshot)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv, wsURL := newTestHubServer(t, hub, 42)
	defer srv.Close()

	conn := dial(t, wsURL)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != EventTick || frame.Symbol != "NSE_EQ|D" {
		t.Fatalf("expected initial tick snapshot for NSE_EQ|D, got %+v", frame)
	}

	deadline := time.Now().Add(time.Second)
	for {
		reg.mu.Lock()
		added := len(reg.added)
		reg.mu.Unlock()
		if added > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.added) != 1 || reg.added[0] != "NSE_EQ|D" {
		t.Fatalf("expected on-connect AddViewer for NSE_EQ|D, got %v", reg.added)
	}
}
