package system

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

func counterValue(t *testing.T, m *MetricsService, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetricsObservers(t *testing.T) {
	m := NewMetricsService(utils.NewNopLogger())

	m.Queued("netease")
	m.Started("netease", 10*time.Millisecond)
	if got := counterValue(t, m, "bragi_upstream_in_flight", map[string]string{"client": "netease"}); got != 1 {
		t.Errorf("in flight = %v", got)
	}
	m.Finished("netease", 20*time.Millisecond, nil)
	m.Queued("netease")
	m.Started("netease", 0)
	m.Finished("netease", time.Millisecond, models.Malformed(models.ProviderNetease, "search", errors.New("bad json")))

	if got := counterValue(t, m, "bragi_upstream_queued_total", map[string]string{"client": "netease"}); got != 2 {
		t.Errorf("queued = %v", got)
	}
	if got := counterValue(t, m, "bragi_upstream_requests_total", map[string]string{"client": "netease", "result": "malformed"}); got != 1 {
		t.Errorf("malformed = %v", got)
	}
	if got := counterValue(t, m, "bragi_upstream_in_flight", map[string]string{"client": "netease"}); got != 0 {
		t.Errorf("in flight after finish = %v", got)
	}

	m.ObserveBranch("search", models.ProviderSpotify, time.Millisecond, models.Unsupported(models.ProviderSpotify, "suggest"))
	if got := counterValue(t, m, "bragi_fanout_branches_total", map[string]string{"provider": "spotify", "result": "unsupported"}); got != 1 {
		t.Errorf("branches = %v", got)
	}

	m.ObserveHTTPRequest("GET", "/api/v1/search", 200, time.Millisecond)
	if got := counterValue(t, m, "bragi_http_requests_total", map[string]string{"path": "/api/v1/search", "status": "200"}); got != 1 {
		t.Errorf("http requests = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "bragi_fanout_branch_duration_seconds") {
		t.Error("exposition misses the fan-out histogram")
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubLister []models.Provider

func (l stubLister) Providers() []models.Provider { return l }

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		redis     Pinger
		providers stubLister
		want      HealthStatus
		count     int
	}{
		{"healthy", stubPinger{}, stubLister{models.ProviderBilibili, models.ProviderNetease}, StatusUp, 4},
		{"no redis configured", nil, stubLister{models.ProviderNetease}, StatusUp, 2},
		{"no providers", nil, nil, StatusDegraded, 1},
		{"redis down", stubPinger{err: errors.New("refused")}, stubLister{models.ProviderNetease}, StatusDown, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthService(tt.redis, tt.providers, utils.NewNopLogger(), HealthServiceConfig{Version: "test"})
			s.CheckHealth(context.Background())

			h := s.GetHealth()
			if h.Status != tt.want {
				t.Errorf("status = %s, want %s", h.Status, tt.want)
			}
			if len(h.Components) != tt.count {
				t.Errorf("components = %+v", h.Components)
			}
			for i := 1; i < len(h.Components); i++ {
				if h.Components[i-1].Name > h.Components[i].Name {
					t.Errorf("components not sorted: %+v", h.Components)
				}
			}
			if h.Version != "test" {
				t.Errorf("version = %q", h.Version)
			}
		})
	}
}
