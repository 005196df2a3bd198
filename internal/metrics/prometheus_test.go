package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNoopIsSafe(t *testing.T) {
	m := NewNoop()
	m.Probes.Inc()
	m.OrdersRejected.Inc()
	m.ConnectedGauge.Set(1)
	m.HeartbeatAgeSec.Set(12.5)
}

func TestPrometheusExposesCounters(t *testing.T) {
	p := NewPrometheus()
	p.Metrics.Probes.Inc()
	p.Metrics.Probes.Inc()
	p.Metrics.OrdersPlaced.Inc()
	p.Metrics.ConnectedGauge.Set(1)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)

	for _, want := range []string{
		"futu_bridge_probes_total 2",
		"futu_bridge_orders_placed_total 1",
		"futu_bridge_connected 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := NewPrometheus()
	b := NewPrometheus()
	a.Metrics.Probes.Inc()

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "futu_bridge_probes_total 1") {
		t.Fatal("registries must be independent")
	}
}
