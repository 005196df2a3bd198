package bridge

import (
	"context"
	"time"

	"futu-bridge/internal/gateway"
	"futu-bridge/internal/timescale"
)

// Status is the operator-facing view of connection health and activity.
type Status struct {
	Connected     bool                    `json:"connected"`
	State         string                  `json:"state"`
	HeartbeatAge  time.Duration           `json:"heartbeat_age"`
	Failures      int                     `json:"failures"`
	Reconnects    uint64                  `json:"reconnects"`
	Markets       map[gateway.Market]bool `json:"markets"`
	Subscriptions int                     `json:"subscriptions"`
	ActiveOrders  int                     `json:"active_orders"`
	Contracts     int                     `json:"contracts"`
}

// Status reports current health without touching the network; per-channel
// liveness reflects channel presence, not a fresh probe.
func (b *Bridge) Status() Status {
	snap := b.monitor.Snapshot()
	st := Status{
		Connected:     b.getContext() != nil,
		State:         snap.State.String(),
		Failures:      snap.Failures,
		Reconnects:    b.monitor.Reconnects(),
		Markets:       make(map[gateway.Market]bool),
		Subscriptions: b.registry.Len(),
		ActiveOrders:  len(b.orders.Active()),
		Contracts:     b.contracts.Len(),
	}
	if !snap.LastHeartbeat.IsZero() {
		st.HeartbeatAge = time.Since(snap.LastHeartbeat)
	}
	b.met.HeartbeatAgeSec.Set(st.HeartbeatAge.Seconds())
	for _, market := range b.enabledMarkets() {
		st.Markets[market] = b.currentTrade(market) != nil
	}
	return st
}

// StartHealthArchive samples Status on the given cadence into the archive
// writer. No-op without an archive.
func (b *Bridge) StartHealthArchive(ctx context.Context, interval time.Duration) {
	if b.archive == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := b.Status()
				b.archive.EnqueueHealth(timescale.HealthSample{
					Time:       time.Now(),
					State:      st.State,
					Failures:   st.Failures,
					Reconnects: st.Reconnects,
					Subs:       st.Subscriptions,
				})
			}
		}
	}()
}
