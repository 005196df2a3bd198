package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"futu-bridge/internal/alerts"
	"futu-bridge/internal/config"
	"futu-bridge/internal/conn"
	"futu-bridge/internal/contracts"
	"futu-bridge/internal/gateway"
	"futu-bridge/internal/health"
	"futu-bridge/internal/history"
	"futu-bridge/internal/mapping"
	"futu-bridge/internal/metrics"
	"futu-bridge/internal/orders"
	"futu-bridge/internal/state"
	"futu-bridge/internal/subs"
	"futu-bridge/internal/timescale"

	"go.uber.org/zap"
)

// Account is a normalized trading account snapshot.
type Account struct {
	AccountID  string
	Market     gateway.Market
	Currency   string
	Cash       float64
	MarketVal  float64
	TotalAsset float64
	Power      float64
}

// Position is a normalized holding.
type Position struct {
	Symbol    string
	Market    gateway.Market
	Qty       float64
	CanSell   float64
	CostPrice float64
	LastPrice float64
	PnL       float64
}

// Tick is a normalized streamed quote.
type Tick struct {
	Symbol string
	Price  float64
	Volume int64
	Time   string
}

// Trade is a normalized fill event.
type Trade struct {
	Symbol       string
	VenueOrderID string
	Price        float64
	Qty          float64
	Time         string
}

// OrderEvent is the order snapshot delivered through the push surface.
type OrderEvent = orders.Order

// Callbacks is the push surface for streaming data. Fields may be nil;
// delivery happens on gateway transport goroutines.
type Callbacks struct {
	OnTick  func(Tick)
	OnOrder func(OrderEvent)
	OnTrade func(Trade)
}

const subsStateKey = "subs:set"

// Bridge is the adapter facade: it owns the connection lifecycle and
// exposes the query, subscription and order operations.
//
// The connection lock is held for the duration of connect, disconnect and
// reconnection decisions but not during queries, so queries can proceed
// concurrently with a recovery; a query that sees a nil channel during a
// teardown reports an empty result rather than failing hard.
type Bridge struct {
	cfg *config.Config
	log *zap.Logger
	met *metrics.Metrics

	manager   *conn.Manager
	registry  *subs.Registry
	monitor   *health.Monitor
	orders    *orders.Controller
	contracts *contracts.Component
	history   *history.Component
	store     state.Store
	archive   *timescale.Writer

	connMu  sync.Mutex
	ctxMu   sync.RWMutex
	current *conn.Context

	cbMu      sync.RWMutex
	callbacks Callbacks
}

// Options carries the optional collaborators.
type Options struct {
	Store   state.Store
	Archive *timescale.Writer
	Alerter *alerts.Telegram
	Metrics *metrics.Metrics
}

func New(cfg *config.Config, dialer gateway.Dialer, opts Options, log *zap.Logger) *Bridge {
	met := opts.Metrics
	if met == nil {
		met = metrics.NewNoop()
	}
	b := &Bridge{
		cfg:      cfg,
		log:      log,
		met:      met,
		manager:  conn.NewManager(dialer, log),
		registry: subs.NewRegistry(),
		store:    opts.Store,
		archive:  opts.Archive,
	}
	b.contracts = contracts.New(b.currentQuote, cfg.Cache.ContractTTL, cfg.Cache.ContractMaxSize, met, log)
	b.history = history.New(b.currentQuote, cfg.Cache.BarTTL, cfg.Cache.BarMaxSize, cfg.History.MinRequestGap, met, log)
	if opts.Archive != nil {
		b.history.SetArchive(opts.Archive.EnqueueBars)
	}
	b.orders = orders.NewController(b.currentTrade, b.marketEnabled, opts.Store, cfg.Orders.RateLimitPerMinute, met, log)
	b.orders.SetUpdateCallback(b.publishOrder)

	var notify func(context.Context, string)
	if opts.Alerter != nil {
		notify = opts.Alerter.NotifyFunc()
	}
	b.monitor = health.NewMonitor(
		(*monitorTarget)(b),
		b.replaySubscriptions,
		notify,
		health.Options{
			Interval:    cfg.Gateway.ProbeInterval,
			Backoff:     cfg.Gateway.ReconnectBackoff,
			MaxAttempts: cfg.Gateway.MaxReconnects,
		},
		met, log)
	return b
}

// SetCallbacks installs the streaming sinks. Must be called before Connect
// to avoid missing early pushes.
func (b *Bridge) SetCallbacks(cb Callbacks) {
	b.cbMu.Lock()
	b.callbacks = cb
	b.cbMu.Unlock()
}

// Connect validates configuration, opens the gateway channels, starts the
// watchdog and warms the contract cache. Configuration errors fail before
// any channel is opened and are never retried.
func (b *Bridge) Connect(ctx context.Context) error {
	if _, err := os.Stat(b.cfg.Gateway.CredentialFile); err != nil {
		return fmt.Errorf("credential file: %w", err)
	}

	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.getContext() != nil {
		return nil
	}

	cc, err := b.manager.Open(ctx, b.cfg)
	if err != nil {
		return err
	}
	b.attachHandlers(cc)
	b.setContext(cc)
	b.met.ConnectedGauge.Set(1)
	b.log.Info("gateway connected",
		zap.String("host", b.cfg.Gateway.Host),
		zap.Int("port", b.cfg.Gateway.Port))

	b.restoreSubscriptions(ctx)
	if err := b.replaySubscriptions(ctx); err != nil {
		b.log.Warn("initial subscription replay incomplete", zap.Error(err))
	}

	loaded := b.contracts.LoadAll(ctx, b.enabledMarkets())
	b.log.Info("contract cache warmed", zap.Int("count", loaded))

	b.monitor.Start(context.Background())
	return nil
}

// Disconnect stops the watchdog and tears the channels down. Idempotent.
func (b *Bridge) Disconnect() {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.monitor.Stop()
	cc := b.getContext()
	if cc == nil {
		return
	}
	b.setContext(nil)
	b.manager.Close(cc)
	b.met.ConnectedGauge.Set(0)
	b.persistSubscriptions()
	b.log.Info("gateway disconnected")
}

// Subscribe registers the symbols and sends the subscribe call. Symbols
// that fail validation are skipped and reported in the error.
func (b *Bridge) Subscribe(ctx context.Context, symbols []string, kinds []gateway.SubKind) error {
	var codes []string
	var bad []string
	for _, symbol := range symbols {
		code, _, ok := mapping.ToVenueCode(symbol)
		if !ok {
			bad = append(bad, symbol)
			continue
		}
		b.registry.Add(subs.Record{Symbol: symbol, Code: code, Kinds: kinds})
		codes = append(codes, code)
	}
	b.persistSubscriptions()

	if len(codes) > 0 {
		if quote := b.currentQuote(); quote != nil {
			if err := quote.Subscribe(ctx, codes, kinds); err != nil {
				b.log.Warn("subscribe call failed, will replay on recovery", zap.Error(err))
			}
		} else {
			b.log.Warn("subscribe deferred, quote channel unavailable",
				zap.Int("count", len(codes)))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid symbols: %v", bad)
	}
	return nil
}

// Unsubscribe removes the kinds for each symbol and tells the gateway.
func (b *Bridge) Unsubscribe(ctx context.Context, symbols []string, kinds []gateway.SubKind) error {
	var codes []string
	for _, symbol := range symbols {
		code, _, ok := mapping.ToVenueCode(symbol)
		if !ok {
			continue
		}
		b.registry.Remove(code, kinds)
		codes = append(codes, code)
	}
	b.persistSubscriptions()
	if len(codes) == 0 {
		return nil
	}
	quote := b.currentQuote()
	if quote == nil {
		return errors.New("quote channel unavailable")
	}
	return quote.Unsubscribe(ctx, codes, kinds)
}

// PlaceOrder submits a normalized order and returns its local id.
func (b *Bridge) PlaceOrder(ctx context.Context, req orders.Request) (int64, error) {
	return b.orders.Submit(ctx, req)
}

// CancelOrder cancels by whichever id the caller holds.
func (b *Bridge) CancelOrder(ctx context.Context, localID int64, venueID string) error {
	return b.orders.Cancel(ctx, localID, venueID)
}

// GetOrder looks an order up by either id.
func (b *Bridge) GetOrder(localID int64, venueID string) (orders.Order, bool) {
	return b.orders.Get(localID, venueID)
}

// QueryHistory returns cached or freshly fetched bars.
func (b *Bridge) QueryHistory(ctx context.Context, req history.Request) []history.Bar {
	return b.history.Query(ctx, req)
}

// GetContract returns the cached contract for a symbol.
func (b *Bridge) GetContract(ctx context.Context, symbol string) (contracts.Contract, bool) {
	return b.contracts.Get(ctx, symbol)
}

// QueryAccounts aggregates accounts across every market with a live trade
// channel. Markets without one are silently absent from the result.
func (b *Bridge) QueryAccounts(ctx context.Context) []Account {
	var out []Account
	for _, market := range b.liveMarkets() {
		ch := b.currentTrade(market)
		if ch == nil {
			continue
		}
		rows, err := ch.Accounts(ctx)
		if err != nil {
			b.log.Warn("account query failed",
				zap.String("market", string(market)), zap.Error(err))
			continue
		}
		for _, row := range rows {
			out = append(out, Account{
				AccountID:  row.AccountID,
				Market:     market,
				Currency:   row.Currency,
				Cash:       row.Cash,
				MarketVal:  row.MarketVal,
				TotalAsset: row.TotalAsset,
				Power:      row.Power,
			})
		}
	}
	return out
}

// QueryPositions aggregates positions across live trade channels.
func (b *Bridge) QueryPositions(ctx context.Context) []Position {
	var out []Position
	for _, market := range b.liveMarkets() {
		ch := b.currentTrade(market)
		if ch == nil {
			continue
		}
		rows, err := ch.Positions(ctx)
		if err != nil {
			b.log.Warn("position query failed",
				zap.String("market", string(market)), zap.Error(err))
			continue
		}
		for _, row := range rows {
			symbol, ok := mapping.FromVenueCode(row.Code)
			if !ok {
				symbol = row.Code
			}
			out = append(out, Position{
				Symbol:    symbol,
				Market:    row.Market,
				Qty:       row.Qty,
				CanSell:   row.CanSell,
				CostPrice: row.CostPrice,
				LastPrice: row.LastPrice,
				PnL:       row.PnL,
			})
		}
	}
	return out
}

// ResetAttempts clears the watchdog's failure counter so recovery can
// resume after it has given up.
func (b *Bridge) ResetAttempts() {
	b.monitor.ResetAttempts()
}

// replaySubscriptions re-issues the registered set against the current
// quote channel.
func (b *Bridge) replaySubscriptions(ctx context.Context) error {
	send := func(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
		quote := b.currentQuote()
		if quote == nil {
			return errors.New("quote channel unavailable")
		}
		if err := quote.Subscribe(ctx, codes, kinds); err != nil {
			return err
		}
		for range codes {
			b.met.SubsReplayed.Inc()
		}
		return nil
	}
	return subs.Replay(ctx, b.registry, send, b.cfg.Gateway.ReplayBatchSize, b.log)
}

func (b *Bridge) attachHandlers(cc *conn.Context) {
	handler := (*pushSink)(b)
	if quote := cc.Quote(); quote != nil {
		quote.SetPushHandler(handler)
	}
	for _, market := range cc.Markets() {
		if ch := cc.Trade(market); ch != nil {
			ch.SetPushHandler(handler)
		}
	}
}

func (b *Bridge) enabledMarkets() []gateway.Market {
	names := b.cfg.Markets.Enabled()
	out := make([]gateway.Market, 0, len(names))
	for _, name := range names {
		out = append(out, gateway.Market(name))
	}
	return out
}

func (b *Bridge) marketEnabled(market gateway.Market) bool {
	for _, m := range b.enabledMarkets() {
		if m == market {
			return true
		}
	}
	return false
}

func (b *Bridge) liveMarkets() []gateway.Market {
	cc := b.getContext()
	if cc == nil {
		return nil
	}
	return cc.Markets()
}

func (b *Bridge) currentQuote() gateway.QuoteChannel {
	cc := b.getContext()
	if cc == nil {
		return nil
	}
	return cc.Quote()
}

func (b *Bridge) currentTrade(market gateway.Market) gateway.TradeChannel {
	cc := b.getContext()
	if cc == nil {
		return nil
	}
	return cc.Trade(market)
}

func (b *Bridge) getContext() *conn.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.current
}

func (b *Bridge) setContext(cc *conn.Context) {
	b.ctxMu.Lock()
	b.current = cc
	b.ctxMu.Unlock()
}

// persistSubscriptions saves the subscription set so a restarted process
// resumes where it left off.
func (b *Bridge) persistSubscriptions() {
	if b.store == nil {
		return
	}
	data, err := json.Marshal(b.registry.Snapshot())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.store.Set(ctx, subsStateKey, string(data)); err != nil {
		b.log.Warn("subscription persist failed", zap.Error(err))
	}
}

func (b *Bridge) restoreSubscriptions(ctx context.Context) {
	if b.store == nil || b.registry.Len() > 0 {
		return
	}
	raw, ok, err := b.store.Get(ctx, subsStateKey)
	if err != nil || !ok {
		return
	}
	var records []subs.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		b.log.Warn("subscription restore failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		b.registry.Add(rec)
	}
	if len(records) > 0 {
		b.log.Info("subscriptions restored", zap.Int("count", len(records)))
	}
}

func (b *Bridge) publishOrder(order orders.Order) {
	b.cbMu.RLock()
	fn := b.callbacks.OnOrder
	b.cbMu.RUnlock()
	if fn != nil {
		fn(order)
	}
}
