package gateway

import (
	"context"
	"time"
)

// Market identifies one trading venue region served by its own trade
// channel on the gateway.
type Market string

const (
	MarketHK Market = "HK"
	MarketUS Market = "US"
	MarketCN Market = "CN"
)

// SubKind is a streaming data kind a symbol can be subscribed with.
type SubKind string

const (
	SubTick     SubKind = "tick"
	SubQuote    SubKind = "quote"
	SubOrderBk  SubKind = "orderbook"
	SubKLineMin SubKind = "kline_1m"
)

// BarInterval names a historical bar granularity.
type BarInterval string

const (
	IntervalMin1  BarInterval = "1m"
	IntervalMin5  BarInterval = "5m"
	IntervalMin15 BarInterval = "15m"
	IntervalMin60 BarInterval = "60m"
	IntervalDay   BarInterval = "1d"
	IntervalWeek  BarInterval = "1w"
	IntervalMonth BarInterval = "1M"
)

// DialConfig carries the connection parameters a dialer needs. It is a
// projection of the immutable process config.
type DialConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	PaperTrading   bool
}

// Raw row shapes as the gateway reports them, before normalization.

type RawContract struct {
	Code     string
	Market   Market
	Name     string
	LotSize  int
	PriceRef float64
	Type     string
}

type RawBar struct {
	Code   string
	Time   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

type RawAccount struct {
	AccountID  string
	Currency   string
	Cash       float64
	MarketVal  float64
	TotalAsset float64
	Power      float64
}

type RawPosition struct {
	Code      string
	Market    Market
	Qty       float64
	CanSell   float64
	CostPrice float64
	LastPrice float64
	PnL       float64
}

type RawOrderUpdate struct {
	VenueID    string
	Code       string
	Market     Market
	Status     string
	Price      float64
	Qty        float64
	FilledQty  float64
	FilledAvg  float64
	UpdateTime string
}

type RawTick struct {
	Code   string
	Market Market
	Price  float64
	Volume int64
	Time   string
}

type RawTrade struct {
	VenueOrderID string
	Code         string
	Market       Market
	Price        float64
	Qty          float64
	Time         string
}

// OrderRequest is the normalized submission shape handed to a trade channel.
type OrderRequest struct {
	Code   string
	Market Market
	Side   string
	Price  float64
	Qty    float64
}

// PushHandler receives asynchronously delivered gateway events. Delivery
// happens on transport goroutines; implementations must be safe to call
// concurrently with everything else.
type PushHandler interface {
	OnTick(RawTick)
	OnOrderUpdate(RawOrderUpdate)
	OnTrade(RawTrade)
}

// QuoteChannel is the market-data side of the gateway connection.
type QuoteChannel interface {
	Probe(ctx context.Context) error
	Subscribe(ctx context.Context, codes []string, kinds []SubKind) error
	Unsubscribe(ctx context.Context, codes []string, kinds []SubKind) error
	ContractList(ctx context.Context, market Market) ([]RawContract, error)
	HistoryBars(ctx context.Context, code string, interval BarInterval, start, end time.Time, maxRows int) ([]RawBar, error)
	SetPushHandler(PushHandler)
	Close() error
}

// TradeChannel is the trading side for one market.
type TradeChannel interface {
	Probe(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, venueID string) error
	Accounts(ctx context.Context) ([]RawAccount, error)
	Positions(ctx context.Context) ([]RawPosition, error)
	SetPushHandler(PushHandler)
	Close() error
}

// Dialer opens channels against the gateway. The opend package provides the
// production implementation; tests substitute fakes.
type Dialer interface {
	DialQuote(ctx context.Context, cfg DialConfig) (QuoteChannel, error)
	DialTrade(ctx context.Context, cfg DialConfig, market Market) (TradeChannel, error)
}
