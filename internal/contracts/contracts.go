package contracts

import (
	"context"
	"time"

	"futu-bridge/internal/cache"
	"futu-bridge/internal/gateway"
	"futu-bridge/internal/mapping"
	"futu-bridge/internal/metrics"
	"futu-bridge/internal/retry"

	"go.uber.org/zap"
)

// Contract is a normalized instrument definition with the per-market
// trading rules derived from the raw row.
type Contract struct {
	Symbol       string
	Code         string
	Market       gateway.Market
	Name         string
	Type         string
	LotSize      int
	PriceTick    float64
	MinVolume    int
	SupportsStop bool
}

// QuoteProvider resolves the current quote channel; nil when disconnected.
type QuoteProvider func() gateway.QuoteChannel

const loadBatchSize = 200

var loadRetry = retry.Policy{Attempts: 3, Initial: 2 * time.Second, Max: 16 * time.Second}

// Component loads and caches instrument definitions.
type Component struct {
	quote QuoteProvider
	store *cache.Store[string, Contract]
	met   *metrics.Metrics
	log   *zap.Logger
}

func New(quote QuoteProvider, ttl time.Duration, maxSize int, met *metrics.Metrics, log *zap.Logger) *Component {
	if met == nil {
		met = metrics.NewNoop()
	}
	return &Component{
		quote: quote,
		store: cache.New[string, Contract](ttl, maxSize),
		met:   met,
		log:   log,
	}
}

// LoadAll bulk-loads the instrument list for each market and returns the
// number of contracts cached. A market whose fetch fails after retries is
// logged and skipped; the other markets still load.
func (c *Component) LoadAll(ctx context.Context, markets []gateway.Market) int {
	expired := c.store.CleanupExpired()
	if expired > 0 {
		c.log.Info("expired contracts swept", zap.Int("count", expired))
	}
	total := 0
	for _, market := range markets {
		ch := c.quote()
		if ch == nil {
			c.log.Warn("contract load skipped, quote channel unavailable",
				zap.String("market", string(market)))
			continue
		}
		var rows []gateway.RawContract
		err := loadRetry.Do(ctx, func() error {
			var err error
			rows, err = ch.ContractList(ctx, market)
			return err
		})
		if err != nil {
			c.log.Error("contract load failed",
				zap.String("market", string(market)), zap.Error(err))
			continue
		}
		// Rows go in per batch to bound peak memory; eviction checkpoints
		// inside Put keep the store at capacity between batches.
		for start := 0; start < len(rows); start += loadBatchSize {
			end := start + loadBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			for _, row := range rows[start:end] {
				contract, ok := fromRaw(row)
				if !ok {
					c.log.Warn("malformed contract row skipped",
						zap.String("code", row.Code))
					continue
				}
				c.store.Put(contract.Symbol, contract)
				total++
			}
		}
		c.log.Info("contracts loaded",
			zap.String("market", string(market)), zap.Int("count", len(rows)))
	}
	return total
}

// Get returns the cached contract, falling back to one best-effort live
// fetch of the symbol's market on a miss. Never returns an error; a miss is
// a miss.
func (c *Component) Get(ctx context.Context, symbol string) (Contract, bool) {
	if contract, ok := c.store.Get(symbol); ok {
		c.met.ContractHits.Inc()
		return contract, true
	}
	c.met.ContractMisses.Inc()
	market, ok := mapping.MarketOf(symbol)
	if !ok {
		return Contract{}, false
	}
	ch := c.quote()
	if ch == nil {
		return Contract{}, false
	}
	rows, err := ch.ContractList(ctx, market)
	if err != nil {
		c.log.Warn("live contract lookup failed",
			zap.String("symbol", symbol), zap.Error(err))
		return Contract{}, false
	}
	var found Contract
	var hit bool
	for _, row := range rows {
		contract, ok := fromRaw(row)
		if !ok {
			continue
		}
		c.store.Put(contract.Symbol, contract)
		if contract.Symbol == symbol {
			found = contract
			hit = true
		}
	}
	return found, hit
}

// Validate reports whether a possibly freshly fetched contract exists.
func (c *Component) Validate(ctx context.Context, symbol string) bool {
	_, ok := c.Get(ctx, symbol)
	return ok
}

func (c *Component) Len() int {
	return c.store.Len()
}

func fromRaw(row gateway.RawContract) (Contract, bool) {
	if row.Code == "" {
		return Contract{}, false
	}
	symbol, ok := mapping.FromVenueCode(string(row.Market) + "." + trimMarketPrefix(row.Code, row.Market))
	if !ok {
		return Contract{}, false
	}
	lot := row.LotSize
	if lot <= 0 {
		lot = defaultLotSize(row.Market)
	}
	return Contract{
		Symbol:       symbol,
		Code:         row.Code,
		Market:       row.Market,
		Name:         row.Name,
		Type:         row.Type,
		LotSize:      lot,
		PriceTick:    priceTick(row.Market, row.PriceRef),
		MinVolume:    lot,
		SupportsStop: supportsStop(row.Market),
	}, true
}

func trimMarketPrefix(code string, market gateway.Market) string {
	prefix := string(market) + "."
	if len(code) > len(prefix) && code[:len(prefix)] == prefix {
		return code[len(prefix):]
	}
	return code
}

// priceTick derives the minimum price increment from market identity and
// the reference price. HK uses the exchange's price ladder; US and CN
// quote in cents.
func priceTick(market gateway.Market, priceRef float64) float64 {
	switch market {
	case gateway.MarketHK:
		switch {
		case priceRef < 0.25:
			return 0.001
		case priceRef < 0.5:
			return 0.005
		case priceRef < 10:
			return 0.01
		case priceRef < 20:
			return 0.02
		case priceRef < 100:
			return 0.05
		case priceRef < 200:
			return 0.1
		case priceRef < 500:
			return 0.2
		case priceRef < 1000:
			return 0.5
		default:
			return 1.0
		}
	case gateway.MarketUS:
		return 0.01
	case gateway.MarketCN:
		return 0.01
	default:
		return 0.01
	}
}

func defaultLotSize(market gateway.Market) int {
	switch market {
	case gateway.MarketUS:
		return 1
	case gateway.MarketCN:
		return 100
	default:
		return 100
	}
}

func supportsStop(market gateway.Market) bool {
	return market == gateway.MarketUS
}
