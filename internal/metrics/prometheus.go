package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "futu_bridge"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		Probes:          promCounter{counter("probes_total", "Total health probes issued.")},
		ProbeFailures:   promCounter{counter("probe_failures_total", "Total failed health probes.")},
		Reconnects:      promCounter{counter("reconnects_total", "Total successful reconnections.")},
		ReconnectsFail:  promCounter{counter("reconnect_failures_total", "Total failed reconnection attempts.")},
		GivenUp:         promCounter{counter("given_up_total", "Times the watchdog entered the given-up state.")},
		SubsReplayed:    promCounter{counter("subscriptions_replayed_total", "Subscriptions replayed after reconnection.")},
		OrdersPlaced:    promCounter{counter("orders_placed_total", "Orders acknowledged by the gateway.")},
		OrdersRejected:  promCounter{counter("orders_rejected_total", "Orders rejected locally or after retry exhaustion.")},
		ContractHits:    promCounter{counter("contract_cache_hits_total", "Contract cache hits.")},
		ContractMisses:  promCounter{counter("contract_cache_misses_total", "Contract cache misses.")},
		BarCacheHits:    promCounter{counter("bar_cache_hits_total", "Historical bar cache hits.")},
		BarCacheMisses:  promCounter{counter("bar_cache_misses_total", "Historical bar cache misses.")},
		ConnectedGauge:  promGauge{gauge("connected", "1 while the gateway connection is up.")},
		HeartbeatAgeSec: promGauge{gauge("heartbeat_age_seconds", "Seconds since the last successful probe.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
