package opend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futu-bridge/internal/gateway"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Dialer opens gateway channels over the local gateway's websocket
// endpoint. One connection per channel: quotes on /quote, trading on a
// per-market /trade path.
type Dialer struct {
	log *zap.Logger
}

func NewDialer(log *zap.Logger) *Dialer {
	return &Dialer{log: log}
}

func (d *Dialer) DialQuote(ctx context.Context, cfg gateway.DialConfig) (gateway.QuoteChannel, error) {
	url := fmt.Sprintf("ws://%s:%d/quote", cfg.Host, cfg.Port)
	c, err := dialWithTimeout(ctx, url, cfg, d.log)
	if err != nil {
		return nil, err
	}
	return &quoteChannel{conn: c, log: d.log}, nil
}

func (d *Dialer) DialTrade(ctx context.Context, cfg gateway.DialConfig, market gateway.Market) (gateway.TradeChannel, error) {
	env := "real"
	if cfg.PaperTrading {
		env = "simulate"
	}
	url := fmt.Sprintf("ws://%s:%d/trade/%s/%s", cfg.Host, cfg.Port, env, market)
	c, err := dialWithTimeout(ctx, url, cfg, d.log)
	if err != nil {
		return nil, err
	}
	return &tradeChannel{conn: c, market: market, log: d.log}, nil
}

func dialWithTimeout(ctx context.Context, url string, cfg gateway.DialConfig, log *zap.Logger) (*conn, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	return dial(ctx, url, cfg.KeepAlive, log)
}

type quoteChannel struct {
	conn *conn
	log  *zap.Logger
}

type subReq struct {
	Codes []string `msgpack:"codes"`
	Kinds []string `msgpack:"kinds"`
}

func (q *quoteChannel) Probe(ctx context.Context) error {
	return q.conn.probe(ctx)
}

func (q *quoteChannel) Subscribe(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
	return q.conn.request(ctx, protoSubscribe, subReq{Codes: codes, Kinds: kindStrings(kinds)}, nil)
}

func (q *quoteChannel) Unsubscribe(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
	return q.conn.request(ctx, protoUnsubscribe, subReq{Codes: codes, Kinds: kindStrings(kinds)}, nil)
}

func (q *quoteChannel) ContractList(ctx context.Context, market gateway.Market) ([]gateway.RawContract, error) {
	var resp struct {
		Rows []gateway.RawContract `msgpack:"rows"`
	}
	req := struct {
		Market string `msgpack:"market"`
	}{Market: string(market)}
	if err := q.conn.request(ctx, protoContractList, req, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (q *quoteChannel) HistoryBars(ctx context.Context, code string, interval gateway.BarInterval, start, end time.Time, maxRows int) ([]gateway.RawBar, error) {
	req := struct {
		Code     string `msgpack:"code"`
		Interval string `msgpack:"interval"`
		Start    string `msgpack:"start"`
		End      string `msgpack:"end"`
		MaxRows  int    `msgpack:"max_rows"`
	}{
		Code:     code,
		Interval: string(interval),
		Start:    start.Format("2006-01-02 15:04:05"),
		End:      end.Format("2006-01-02 15:04:05"),
		MaxRows:  maxRows,
	}
	var resp struct {
		Rows []gateway.RawBar `msgpack:"rows"`
	}
	if err := q.conn.request(ctx, protoHistoryBars, req, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (q *quoteChannel) SetPushHandler(h gateway.PushHandler) {
	q.conn.setPush(func(f frame) { dispatchPush(f, h, q.log) })
}

func (q *quoteChannel) Close() error {
	return q.conn.close()
}

type tradeChannel struct {
	conn   *conn
	market gateway.Market
	log    *zap.Logger
}

func (t *tradeChannel) Probe(ctx context.Context) error {
	return t.conn.probe(ctx)
}

func (t *tradeChannel) PlaceOrder(ctx context.Context, req gateway.OrderRequest) (string, error) {
	wire := struct {
		Code   string  `msgpack:"code"`
		Market string  `msgpack:"market"`
		Side   string  `msgpack:"side"`
		Price  float64 `msgpack:"price"`
		Qty    float64 `msgpack:"qty"`
	}{Code: req.Code, Market: string(req.Market), Side: req.Side, Price: req.Price, Qty: req.Qty}
	var resp struct {
		VenueID string `msgpack:"venue_id"`
	}
	if err := t.conn.request(ctx, protoPlaceOrder, wire, &resp); err != nil {
		return "", err
	}
	if resp.VenueID == "" {
		return "", errors.New("opend: empty venue order id")
	}
	return resp.VenueID, nil
}

func (t *tradeChannel) CancelOrder(ctx context.Context, venueID string) error {
	req := struct {
		VenueID string `msgpack:"venue_id"`
	}{VenueID: venueID}
	return t.conn.request(ctx, protoCancelOrder, req, nil)
}

func (t *tradeChannel) Accounts(ctx context.Context) ([]gateway.RawAccount, error) {
	var resp struct {
		Rows []gateway.RawAccount `msgpack:"rows"`
	}
	if err := t.conn.request(ctx, protoAccounts, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (t *tradeChannel) Positions(ctx context.Context) ([]gateway.RawPosition, error) {
	var resp struct {
		Rows []gateway.RawPosition `msgpack:"rows"`
	}
	if err := t.conn.request(ctx, protoPositions, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (t *tradeChannel) SetPushHandler(h gateway.PushHandler) {
	t.conn.setPush(func(f frame) { dispatchPush(f, h, t.log) })
}

func (t *tradeChannel) Close() error {
	return t.conn.close()
}

// dispatchPush decodes a push frame and forwards it. Decode failures are
// logged and dropped; a bad push must never take the transport down.
func dispatchPush(f frame, h gateway.PushHandler, log *zap.Logger) {
	if h == nil {
		return
	}
	switch f.Proto {
	case protoPushTick:
		var tick gateway.RawTick
		if err := msgpack.Unmarshal(f.Body, &tick); err != nil {
			logPushError(log, "tick", err)
			return
		}
		h.OnTick(tick)
	case protoPushOrder:
		var upd gateway.RawOrderUpdate
		if err := msgpack.Unmarshal(f.Body, &upd); err != nil {
			logPushError(log, "order", err)
			return
		}
		h.OnOrderUpdate(upd)
	case protoPushTrade:
		var trade gateway.RawTrade
		if err := msgpack.Unmarshal(f.Body, &trade); err != nil {
			logPushError(log, "trade", err)
			return
		}
		h.OnTrade(trade)
	}
}

func logPushError(log *zap.Logger, kind string, err error) {
	if log != nil {
		log.Warn("opend push decode failed", zap.String("kind", kind), zap.Error(err))
	}
}

func kindStrings(kinds []gateway.SubKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
