package history

import (
	"context"
	"time"

	"futu-bridge/internal/cache"
	"futu-bridge/internal/gateway"
	"futu-bridge/internal/mapping"
	"futu-bridge/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bar is one normalized historical candle.
type Bar struct {
	Symbol   string
	Interval gateway.BarInterval
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

// Request asks for bars of one symbol and interval. Start and end are
// advisory hints to the gateway; the per-interval row cap bounds the
// result, not the range.
type Request struct {
	Symbol   string
	Interval gateway.BarInterval
	Start    time.Time
	End      time.Time
}

type cacheKey struct {
	symbol   string
	interval gateway.BarInterval
	start    int64
	end      int64
	bucket   int64
}

// QuoteProvider resolves the current quote channel; nil when disconnected.
type QuoteProvider func() gateway.QuoteChannel

// ArchiveSink receives fetched bars for out-of-band storage. Optional.
type ArchiveSink func(bars []Bar)

const barTimeLayout = "2006-01-02 15:04:05"

// Component serves historical bars through a time-bucketed cache and a
// gateway-wide request throttle.
type Component struct {
	quote   QuoteProvider
	store   *cache.Store[cacheKey, []Bar]
	limiter *rate.Limiter
	archive ArchiveSink
	met     *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func New(quote QuoteProvider, ttl time.Duration, maxSize int, minGap time.Duration, met *metrics.Metrics, log *zap.Logger) *Component {
	if met == nil {
		met = metrics.NewNoop()
	}
	if minGap <= 0 {
		minGap = 100 * time.Millisecond
	}
	return &Component{
		quote:   quote,
		store:   cache.New[cacheKey, []Bar](ttl, maxSize),
		limiter: rate.NewLimiter(rate.Every(minGap), 1),
		met:     met,
		log:     log,
		now:     time.Now,
	}
}

// SetArchive attaches an optional sink for fetched bars.
func (c *Component) SetArchive(sink ArchiveSink) {
	c.archive = sink
}

// Query returns bars for the request, oldest first. Failures are logged and
// produce an empty result, never an error; a malformed row is skipped
// without aborting its batch.
func (c *Component) Query(ctx context.Context, req Request) []Bar {
	interval, ok := mapping.Interval(req.Interval)
	if !ok {
		c.log.Warn("unknown bar interval", zap.String("interval", string(req.Interval)))
		return nil
	}
	code, _, ok := mapping.ToVenueCode(req.Symbol)
	if !ok {
		c.log.Warn("invalid symbol for history query", zap.String("symbol", req.Symbol))
		return nil
	}

	key := cacheKey{
		symbol:   req.Symbol,
		interval: interval,
		start:    req.Start.Unix(),
		end:      req.End.Unix(),
		bucket:   bucketFor(interval, c.now()),
	}
	if bars, ok := c.store.Get(key); ok {
		c.met.BarCacheHits.Inc()
		return bars
	}
	c.met.BarCacheMisses.Inc()

	ch := c.quote()
	if ch == nil {
		c.log.Warn("history query skipped, quote channel unavailable",
			zap.String("symbol", req.Symbol))
		return nil
	}

	// One request per throttle window across all callers.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	maxRows := rowCap(interval)
	rows, err := ch.HistoryBars(ctx, code, interval, req.Start, req.End, maxRows)
	if err != nil {
		c.log.Error("history fetch failed",
			zap.String("symbol", req.Symbol), zap.Error(err))
		return nil
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := fromRaw(req.Symbol, interval, row)
		if err != nil {
			c.log.Warn("malformed bar row skipped",
				zap.String("symbol", req.Symbol),
				zap.String("time", row.Time),
				zap.Error(err))
			continue
		}
		bars = append(bars, bar)
		if len(bars) >= maxRows {
			break
		}
	}
	c.store.Put(key, bars)
	if c.archive != nil && len(bars) > 0 {
		c.archive(bars)
	}
	return bars
}

// bucketFor truncates now to the cache bucket for an interval: minute
// intervals bucket by minute, hourly by hour, everything else by day. Two
// queries inside one bucket share a cache entry; the next bucket is a
// guaranteed miss.
func bucketFor(interval gateway.BarInterval, now time.Time) int64 {
	switch interval {
	case gateway.IntervalMin1, gateway.IntervalMin5, gateway.IntervalMin15:
		return now.Truncate(time.Minute).Unix()
	case gateway.IntervalMin60:
		return now.Truncate(time.Hour).Unix()
	default:
		return now.Truncate(24 * time.Hour).Unix()
	}
}

// rowCap bounds a response by interval granularity: about a day of minute
// bars, a year of dailies.
func rowCap(interval gateway.BarInterval) int {
	switch interval {
	case gateway.IntervalMin1:
		return 1440
	case gateway.IntervalMin5:
		return 864
	case gateway.IntervalMin15:
		return 672
	case gateway.IntervalMin60:
		return 500
	case gateway.IntervalDay:
		return 252
	case gateway.IntervalWeek:
		return 104
	case gateway.IntervalMonth:
		return 60
	default:
		return 252
	}
}

func fromRaw(symbol string, interval gateway.BarInterval, row gateway.RawBar) (Bar, error) {
	ts, err := time.ParseInLocation(barTimeLayout, row.Time, time.Local)
	if err != nil {
		return Bar{}, err
	}
	return Bar{
		Symbol:   symbol,
		Interval: interval,
		Time:     ts,
		Open:     row.Open,
		High:     row.High,
		Low:      row.Low,
		Close:    row.Close,
		Volume:   row.Volume,
	}, nil
}
