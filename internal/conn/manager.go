package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futu-bridge/internal/config"
	"futu-bridge/internal/gateway"
	"futu-bridge/internal/retry"

	"go.uber.org/zap"
)

const (
	quoteDialAttempts = 3
	quoteDialDelay    = 2 * time.Second
)

// Context is one live set of gateway channels: the quote channel plus zero
// or more per-market trade channels. A Context is replaced wholesale on
// reconnection, never patched.
type Context struct {
	mu     sync.Mutex
	quote  gateway.QuoteChannel
	trades map[gateway.Market]gateway.TradeChannel
	closed bool
}

// Quote returns the quote channel, or nil after Close.
func (c *Context) Quote() gateway.QuoteChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.quote
}

// Trade returns the trade channel for market, or nil when the market has no
// trading capability on this context.
func (c *Context) Trade(market gateway.Market) gateway.TradeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.trades[market]
}

// Markets lists the markets that currently have a trade channel.
func (c *Context) Markets() []gateway.Market {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]gateway.Market, 0, len(c.trades))
	for m := range c.trades {
		out = append(out, m)
	}
	return out
}

// Manager owns channel creation, teardown and liveness probing.
type Manager struct {
	dialer gateway.Dialer
	log    *zap.Logger

	quoteAttempts int
	quoteDelay    time.Duration
}

func NewManager(dialer gateway.Dialer, log *zap.Logger) *Manager {
	return &Manager{
		dialer:        dialer,
		log:           log,
		quoteAttempts: quoteDialAttempts,
		quoteDelay:    quoteDialDelay,
	}
}

// Open creates the quote channel first and fails fast if it cannot be
// dialed and probed; a failed trade channel only costs that market its
// trading capability.
func (m *Manager) Open(ctx context.Context, cfg *config.Config) (*Context, error) {
	dialCfg := DialConfig(cfg)

	var quote gateway.QuoteChannel
	err := retry.Fixed(ctx, m.quoteAttempts, m.quoteDelay, func() error {
		ch, err := m.dialer.DialQuote(ctx, dialCfg)
		if err != nil {
			m.log.Warn("quote channel dial failed", zap.Error(err))
			return err
		}
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.ConnectTimeout)
		defer cancel()
		if err := ch.Probe(probeCtx); err != nil {
			_ = ch.Close()
			m.log.Warn("quote channel probe failed", zap.Error(err))
			return err
		}
		quote = ch
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open quote channel: %w", err)
	}

	cc := &Context{quote: quote, trades: make(map[gateway.Market]gateway.TradeChannel)}
	for _, name := range cfg.Markets.Enabled() {
		market := gateway.Market(name)
		ch, err := m.dialer.DialTrade(ctx, dialCfg, market)
		if err != nil {
			m.log.Error("trade channel unavailable, market disabled",
				zap.String("market", name), zap.Error(err))
			continue
		}
		cc.trades[market] = ch
		m.log.Info("trade channel opened", zap.String("market", name))
	}
	return cc, nil
}

// Close tears down every channel. Closing an already-closed context is a
// no-op.
func (m *Manager) Close(cc *Context) {
	if cc == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed {
		return
	}
	cc.closed = true
	if cc.quote != nil {
		if err := cc.quote.Close(); err != nil {
			m.log.Warn("quote channel close failed", zap.Error(err))
		}
		cc.quote = nil
	}
	for market, ch := range cc.trades {
		if err := ch.Close(); err != nil {
			m.log.Warn("trade channel close failed", zap.String("market", string(market)), zap.Error(err))
		}
	}
	cc.trades = nil
}

// Probe issues a cheap liveness call on the quote channel; trade channels
// are probed best-effort and never fail the overall probe.
func (m *Manager) Probe(ctx context.Context, cc *Context) bool {
	if cc == nil {
		return false
	}
	quote := cc.Quote()
	if quote == nil {
		return false
	}
	if err := quote.Probe(ctx); err != nil {
		m.log.Warn("quote channel probe failed", zap.Error(err))
		return false
	}
	for _, market := range cc.Markets() {
		ch := cc.Trade(market)
		if ch == nil {
			continue
		}
		if err := ch.Probe(ctx); err != nil {
			m.log.Warn("trade channel probe failed", zap.String("market", string(market)), zap.Error(err))
		}
	}
	return true
}

// DialConfig projects the process config into the dialer's view of it.
func DialConfig(cfg *config.Config) gateway.DialConfig {
	return gateway.DialConfig{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		ConnectTimeout: cfg.Gateway.ConnectTimeout,
		KeepAlive:      cfg.Gateway.KeepAlive,
		PaperTrading:   cfg.Gateway.PaperTrading,
	}
}
