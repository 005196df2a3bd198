package bridge

import (
	"context"

	"futu-bridge/internal/gateway"
	"futu-bridge/internal/mapping"
	"futu-bridge/internal/orders"
)

// monitorTarget adapts the bridge to the watchdog's Target capability. The
// watchdog never sees the bridge itself, only teardown/reopen/probe.
type monitorTarget Bridge

func (t *monitorTarget) Probe(ctx context.Context) bool {
	b := (*Bridge)(t)
	cc := b.getContext()
	if cc == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.Gateway.ConnectTimeout)
	defer cancel()
	return b.manager.Probe(probeCtx, cc)
}

func (t *monitorTarget) Teardown() {
	b := (*Bridge)(t)
	b.connMu.Lock()
	defer b.connMu.Unlock()
	cc := b.getContext()
	if cc == nil {
		return
	}
	b.setContext(nil)
	b.manager.Close(cc)
	b.met.ConnectedGauge.Set(0)
}

func (t *monitorTarget) Reopen(ctx context.Context) error {
	b := (*Bridge)(t)
	b.connMu.Lock()
	defer b.connMu.Unlock()
	cc, err := b.manager.Open(ctx, b.cfg)
	if err != nil {
		return err
	}
	b.attachHandlers(cc)
	b.setContext(cc)
	b.met.ConnectedGauge.Set(1)
	return nil
}

// pushSink translates gateway push events into normalized callbacks and
// order-state merges. Calls arrive on transport goroutines.
type pushSink Bridge

func (s *pushSink) OnTick(raw gateway.RawTick) {
	b := (*Bridge)(s)
	symbol, ok := mapping.FromVenueCode(raw.Code)
	if !ok {
		symbol = raw.Code
	}
	b.cbMu.RLock()
	fn := b.callbacks.OnTick
	b.cbMu.RUnlock()
	if fn != nil {
		fn(Tick{Symbol: symbol, Price: raw.Price, Volume: raw.Volume, Time: raw.Time})
	}
}

func (s *pushSink) OnOrderUpdate(raw gateway.RawOrderUpdate) {
	b := (*Bridge)(s)
	if raw.VenueID == "" {
		b.log.Warn("order update without venue id dropped")
		return
	}
	b.orders.OnExternalUpdate(orders.Update{
		VenueID:  raw.VenueID,
		Status:   orders.Status(mapping.OrderStatus(raw.Status)),
		Filled:   raw.FilledQty,
		AvgPrice: raw.FilledAvg,
	})
}

func (s *pushSink) OnTrade(raw gateway.RawTrade) {
	b := (*Bridge)(s)
	symbol, ok := mapping.FromVenueCode(raw.Code)
	if !ok {
		symbol = raw.Code
	}
	b.cbMu.RLock()
	fn := b.callbacks.OnTrade
	b.cbMu.RUnlock()
	if fn != nil {
		fn(Trade{
			Symbol:       symbol,
			VenueOrderID: raw.VenueOrderID,
			Price:        raw.Price,
			Qty:          raw.Qty,
			Time:         raw.Time,
		})
	}
}
