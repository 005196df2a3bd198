package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"futu-bridge/internal/gateway"
	"futu-bridge/internal/mapping"
	"futu-bridge/internal/metrics"
	"futu-bridge/internal/retry"
	"futu-bridge/internal/state"

	"go.uber.org/zap"
)

// Status is a pending order's lifecycle state. FILLED states are only ever
// reached through external updates from the gateway's push stream.
type Status string

const (
	StatusSubmitting Status = "SUBMITTING"
	StatusNotTraded  Status = "NOTTRADED"
	StatusPartTraded Status = "PARTTRADED"
	StatusAllTraded  Status = "ALLTRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// Request is a normalized order submission.
type Request struct {
	Symbol string
	Side   string
	Price  float64
	Volume float64
}

// Order is a pending order tracked under both its local and, once known,
// venue id.
type Order struct {
	LocalID   int64
	VenueID   string
	Symbol    string
	Code      string
	Market    gateway.Market
	Side      string
	Price     float64
	Volume    float64
	Filled    float64
	AvgPrice  float64
	Status    Status
	Submitted time.Time
	Updated   time.Time
}

// Update is an asynchronously delivered status change.
type Update struct {
	VenueID   string
	LocalID   int64
	Status    Status
	Filled    float64
	AvgPrice  float64
	Timestamp time.Time
}

// ChannelProvider resolves the current trade channel for a market. The
// controller holds this capability instead of a reference to its owner.
type ChannelProvider func(gateway.Market) gateway.TradeChannel

// MarketEnabled reports whether a market was configured for trading.
type MarketEnabled func(gateway.Market) bool

const seqName = "order_local_id"

var submitRetry = retry.Policy{Attempts: 3, Initial: time.Second, Max: 10 * time.Second}

// Controller places and cancels orders with local-first bookkeeping: the
// pending order is recorded before the network call so a crash mid-call
// leaves a visible stuck order, never a silent loss.
type Controller struct {
	channel ChannelProvider
	enabled MarketEnabled
	store   state.Store
	met     *metrics.Metrics
	log     *zap.Logger

	rateLimit  int
	rateWindow time.Duration
	now        func() time.Time

	mu       sync.Mutex
	nextID   int64
	byLocal  map[int64]*Order
	byVenue  map[string]*Order
	stashed  map[string]Update
	recent   []time.Time
	onUpdate func(Order)
}

func NewController(channel ChannelProvider, enabled MarketEnabled, store state.Store, rateLimit int, met *metrics.Metrics, log *zap.Logger) *Controller {
	if met == nil {
		met = metrics.NewNoop()
	}
	if rateLimit < 1 {
		rateLimit = 60
	}
	c := &Controller{
		channel:    channel,
		enabled:    enabled,
		store:      store,
		met:        met,
		log:        log,
		rateLimit:  rateLimit,
		rateWindow: time.Minute,
		now:        time.Now,
		byLocal:    make(map[int64]*Order),
		byVenue:    make(map[string]*Order),
		stashed:    make(map[string]Update),
	}
	return c
}

// SetUpdateCallback registers the push sink for order state changes,
// including locally rejected orders.
func (c *Controller) SetUpdateCallback(fn func(Order)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// allocateIDLocked hands out the next local order id. Ids come from the
// state store's sequence so they stay unique across restarts; if the store
// is absent or failing, the in-memory counter keeps ids unique for the
// process lifetime.
func (c *Controller) allocateIDLocked(ctx context.Context) int64 {
	if c.store != nil {
		if id, err := c.store.NextSeq(ctx, seqName); err == nil && id > c.nextID {
			c.nextID = id
			return id
		} else if err != nil {
			c.log.Warn("order id sequence failed, using in-memory counter", zap.Error(err))
		}
	}
	c.nextID++
	return c.nextID
}

// Submit validates, rate-limits and places an order. The returned local id
// is assigned before the gateway is called; on retry exhaustion the order
// is left REJECTED and published, not dropped.
func (c *Controller) Submit(ctx context.Context, req Request) (int64, error) {
	code, market, ok := mapping.ToVenueCode(req.Symbol)
	if !ok {
		c.met.OrdersRejected.Inc()
		return 0, fmt.Errorf("invalid symbol %q", req.Symbol)
	}
	venueSide, ok := mapping.ToVenueSide(req.Side)
	if !ok {
		c.met.OrdersRejected.Inc()
		return 0, fmt.Errorf("invalid side %q", req.Side)
	}
	if req.Price <= 0 {
		c.met.OrdersRejected.Inc()
		return 0, fmt.Errorf("price must be positive, got %v", req.Price)
	}
	if req.Volume <= 0 {
		c.met.OrdersRejected.Inc()
		return 0, fmt.Errorf("volume must be positive, got %v", req.Volume)
	}
	if c.enabled != nil && !c.enabled(market) {
		c.met.OrdersRejected.Inc()
		return 0, fmt.Errorf("market %s not enabled for trading", market)
	}
	if !c.allow() {
		c.met.OrdersRejected.Inc()
		return 0, errors.New("order rate limit exceeded")
	}

	order := &Order{
		Symbol:    req.Symbol,
		Code:      code,
		Market:    market,
		Side:      req.Side,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    StatusSubmitting,
		Submitted: c.now(),
		Updated:   c.now(),
	}
	c.mu.Lock()
	order.LocalID = c.allocateIDLocked(ctx)
	c.byLocal[order.LocalID] = order
	c.mu.Unlock()

	ch := c.channel(market)
	if ch == nil {
		c.reject(order, "trade channel unavailable")
		return order.LocalID, nil
	}

	wire := gateway.OrderRequest{Code: code, Market: market, Side: venueSide, Price: req.Price, Qty: req.Volume}
	var venueID string
	err := submitRetry.Do(ctx, func() error {
		id, err := ch.PlaceOrder(ctx, wire)
		if err != nil {
			c.log.Warn("order placement attempt failed",
				zap.Int64("local_id", order.LocalID), zap.Error(err))
			return err
		}
		venueID = id
		return nil
	})
	if err != nil {
		c.reject(order, err.Error())
		return order.LocalID, nil
	}

	c.mu.Lock()
	order.VenueID = venueID
	order.Status = StatusNotTraded
	order.Updated = c.now()
	c.byVenue[venueID] = order
	stash, hasStash := c.stashed[venueID]
	if hasStash {
		delete(c.stashed, venueID)
	}
	snapshot := *order
	fn := c.onUpdate
	c.mu.Unlock()

	c.met.OrdersPlaced.Inc()
	c.log.Info("order placed",
		zap.Int64("local_id", order.LocalID),
		zap.String("venue_id", venueID),
		zap.String("symbol", req.Symbol))
	if fn != nil {
		fn(snapshot)
	}
	if hasStash {
		// A push update raced the synchronous ack; apply it now that the
		// venue id is indexed.
		c.OnExternalUpdate(stash)
	}
	return order.LocalID, nil
}

// Cancel issues a single best-effort cancel for the order identified by
// either id. Cancellation is idempotent at the gateway, so it is not
// retried.
func (c *Controller) Cancel(ctx context.Context, localID int64, venueID string) error {
	c.mu.Lock()
	order := c.lookupLocked(localID, venueID)
	c.mu.Unlock()
	if order == nil {
		return fmt.Errorf("unknown order local=%d venue=%q", localID, venueID)
	}
	if order.VenueID == "" {
		return fmt.Errorf("order %d has no venue id yet", order.LocalID)
	}
	ch := c.channel(order.Market)
	if ch == nil {
		return fmt.Errorf("trade channel unavailable for %s", order.Market)
	}
	if err := ch.CancelOrder(ctx, order.VenueID); err != nil {
		c.log.Warn("cancel failed", zap.String("venue_id", order.VenueID), zap.Error(err))
		return err
	}
	return nil
}

// OnExternalUpdate merges an asynchronously delivered status change, keyed
// by whichever id is present. Updates for a venue id the submit path has
// not indexed yet are stashed and applied once it is.
func (c *Controller) OnExternalUpdate(upd Update) {
	c.mu.Lock()
	order := c.lookupLocked(upd.LocalID, upd.VenueID)
	if order == nil {
		if upd.VenueID != "" {
			c.stashed[upd.VenueID] = upd
		}
		c.mu.Unlock()
		return
	}
	if upd.Status != "" {
		order.Status = upd.Status
	}
	if upd.Filled > order.Filled {
		order.Filled = upd.Filled
	}
	if upd.AvgPrice > 0 {
		order.AvgPrice = upd.AvgPrice
	}
	if upd.VenueID != "" && order.VenueID == "" {
		order.VenueID = upd.VenueID
		c.byVenue[upd.VenueID] = order
	}
	order.Updated = c.now()
	snapshot := *order
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Get returns a copy of the order found under either id.
func (c *Controller) Get(localID int64, venueID string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order := c.lookupLocked(localID, venueID)
	if order == nil {
		return Order{}, false
	}
	return *order, true
}

// Active lists orders not yet in a terminal state.
func (c *Controller) Active() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Order
	for _, order := range c.byLocal {
		switch order.Status {
		case StatusAllTraded, StatusCancelled, StatusRejected:
			continue
		}
		out = append(out, *order)
	}
	return out
}

func (c *Controller) lookupLocked(localID int64, venueID string) *Order {
	if venueID != "" {
		if order, ok := c.byVenue[venueID]; ok {
			return order
		}
	}
	if localID != 0 {
		if order, ok := c.byLocal[localID]; ok {
			return order
		}
	}
	return nil
}

// allow checks the sliding 60s window: over-limit submissions are rejected
// immediately, never queued.
func (c *Controller) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cutoff := now.Add(-c.rateWindow)
	kept := c.recent[:0]
	for _, t := range c.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.recent = kept
	if len(c.recent) >= c.rateLimit {
		return false
	}
	c.recent = append(c.recent, now)
	return true
}

func (c *Controller) reject(order *Order, reason string) {
	c.mu.Lock()
	order.Status = StatusRejected
	order.Updated = c.now()
	snapshot := *order
	fn := c.onUpdate
	c.mu.Unlock()
	c.met.OrdersRejected.Inc()
	c.log.Error("order rejected",
		zap.Int64("local_id", order.LocalID),
		zap.String("symbol", order.Symbol),
		zap.String("reason", reason))
	if fn != nil {
		fn(snapshot)
	}
}
