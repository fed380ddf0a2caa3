package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_HealthTracksConnectionState(t *testing.T) {
	r := NewRegistry()

	h := r.Health()
	if h.UpstreamConnected || h.CacheReachable {
		t.Fatalf("expected both down before any Set call, got %+v", h)
	}

	r.SetUpstreamConnected(true)
	r.SetCacheReachable(true)

	h = r.Health()
	if !h.UpstreamConnected || !h.CacheReachable {
		t.Fatalf("expected both up after Set(true), got %+v", h)
	}
	if !h.NotificationsHealthy {
		t.Fatalf("expected notifications healthy by default")
	}

	r.SetUpstreamConnected(false)
	if r.Health().UpstreamConnected {
		t.Fatalf("expected upstream down after Set(false)")
	}
}

func TestRegistry_HandlerServesPrometheusFormat(t *testing.T) {
	r := NewRegistry()
	r.TicksReceived.Add(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alertengine_ticks_received_total") {
		t.Fatalf("expected metric name in output, got %q", rec.Body.String())
	}
}
