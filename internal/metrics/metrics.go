package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// Metrics is the bridge's instrumentation surface. The noop variant keeps
// call sites unconditional; cmd/bridge swaps in prometheus when enabled.
type Metrics struct {
	Probes          Counter
	ProbeFailures   Counter
	Reconnects      Counter
	ReconnectsFail  Counter
	GivenUp         Counter
	SubsReplayed    Counter
	OrdersPlaced    Counter
	OrdersRejected  Counter
	ContractHits    Counter
	ContractMisses  Counter
	BarCacheHits    Counter
	BarCacheMisses  Counter
	ConnectedGauge  Gauge
	HeartbeatAgeSec Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Probes:          n,
		ProbeFailures:   n,
		Reconnects:      n,
		ReconnectsFail:  n,
		GivenUp:         n,
		SubsReplayed:    n,
		OrdersPlaced:    n,
		OrdersRejected:  n,
		ContractHits:    n,
		ContractMisses:  n,
		BarCacheHits:    n,
		BarCacheMisses:  n,
		ConnectedGauge:  g,
		HeartbeatAgeSec: g,
	}
}
