package quote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
)

// RetryConfig configures the pull-call retry wrapper (spec §4.1 "each
// pull call is wrapped in N retries with delay, defaults N=3, 200ms").
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func defaultRetry() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: 200 * time.Millisecond}
}

// Client is the market-data client: a push-subscription cache in front of
// a broker.Gateway, generalizing the teacher's Broker wrapping in
// trader.go (price lookups, candle pulls) into a dedicated component with
// its own quote map and trading-day TTL cache.
type Client struct {
	gw     broker.Gateway
	logger *slog.Logger
	retry  RetryConfig

	mu         sync.RWMutex
	quotes     map[string]Quote
	static     map[string]StaticInfo
	subscribed map[string]bool

	tdMu       sync.RWMutex
	tradingDay map[string]tradingDayEntry
}

type tradingDayEntry struct {
	info      TradingDayInfo
	expiresAt time.Time
}

// NewClient wires a Client around gw.
func NewClient(gw broker.Gateway, logger *slog.Logger) *Client {
	c := &Client{
		gw:         gw,
		logger:     logger,
		retry:      defaultRetry(),
		quotes:     make(map[string]Quote),
		static:     make(map[string]StaticInfo),
		subscribed: make(map[string]bool),
		tradingDay: make(map[string]tradingDayEntry),
	}
	gw.SetOnQuote(c.onPush)
	return c
}

// onPush is the push handler: it converts the pushed last-done price plus
// the cached prevClose/lotSize into a full Quote and writes the cache —
// spec §4.1's "quote map mutation is the only write" (single writer: the
// push handler and Init/cacheStaticInfo; never the risk/trader packages).
func (c *Client) onPush(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.quotes[q.Symbol]; ok {
		if q.PrevClose == 0 {
			q.PrevClose = existing.PrevClose
		}
		if q.LotSize == 0 {
			q.LotSize = existing.LotSize
		}
		if q.Name == "" {
			q.Name = existing.Name
		}
	}
	if si, ok := c.static[q.Symbol]; ok {
		if q.PrevClose == 0 {
			q.PrevClose = si.PrevClose
		}
		if q.LotSize == 0 {
			q.LotSize = si.LotSize
		}
		if q.Name == "" {
			q.Name = si.Name
		}
	}
	c.quotes[q.Symbol] = q
}

// Init subscribes all required symbols and warms up static info, the
// boot-sequence step spec §4.1 describes ("On init, subscribes all
// required symbols; caches static info ... once").
func (c *Client) Init(ctx context.Context, symbols []string) error {
	if err := withRetry(ctx, c.retry, func() error { return c.gw.Subscribe(ctx, symbols) }); err != nil {
		return fmt.Errorf("quote: subscribe: %w", err)
	}
	c.mu.Lock()
	for _, s := range symbols {
		c.subscribed[s] = true
	}
	c.mu.Unlock()
	return c.CacheStaticInfo(ctx, symbols)
}

// CacheStaticInfo incrementally warms up static info for symbols not yet
// cached (spec §4.1 "incremental static-info warmup").
func (c *Client) CacheStaticInfo(ctx context.Context, symbols []string) error {
	var missing []string
	c.mu.RLock()
	for _, s := range symbols {
		if _, ok := c.static[s]; !ok {
			missing = append(missing, s)
		}
	}
	c.mu.RUnlock()
	if len(missing) == 0 {
		return nil
	}

	var info map[string]StaticInfo
	err := withRetry(ctx, c.retry, func() error {
		var e error
		info, e = c.gw.StaticInfo(ctx, missing)
		return e
	})
	if err != nil {
		return fmt.Errorf("quote: static info: %w", err)
	}
	c.mu.Lock()
	for sym, si := range info {
		c.static[sym] = si
	}
	c.mu.Unlock()
	return nil
}

// GetQuotes reads from the local cache only (spec §4.1) — it never calls
// the broker. Requesting a never-subscribed symbol is a configuration
// error.
func (c *Client) GetQuotes(symbols []string) (map[string]*Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*Quote, len(symbols))
	for _, s := range symbols {
		if !c.subscribed[s] {
			return nil, fmt.Errorf("quote: %s: %w", s, broker.ErrSymbolNotSubscribed)
		}
		if q, ok := c.quotes[s]; ok {
			qc := q
			out[s] = &qc
		} else {
			out[s] = nil
		}
	}
	return out, nil
}

// GetCandlesticks pulls candles on demand (spec §4.1).
func (c *Client) GetCandlesticks(ctx context.Context, symbol, period string, count int) ([]Candle, error) {
	var out []Candle
	err := withRetry(ctx, c.retry, func() error {
		var e error
		out, e = c.gw.Candlesticks(ctx, symbol, period, count)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("quote: candlesticks %s: %w", symbol, err)
	}
	return out, nil
}

// IsTradingDay is TTL-cached 24h per (date,market) per spec §4.1.
func (c *Client) IsTradingDay(ctx context.Context, date time.Time, market string) (TradingDayInfo, error) {
	key := dateKey(date) + "|" + market

	c.tdMu.RLock()
	entry, ok := c.tradingDay[key]
	c.tdMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.info, nil
	}

	var result map[string]TradingDayInfo
	err := withRetry(ctx, c.retry, func() error {
		var e error
		result, e = c.gw.TradingDays(ctx, market, date, date)
		return e
	})
	if err != nil {
		return TradingDayInfo{}, fmt.Errorf("quote: trading days: %w", err)
	}
	info := result[dateKey(date)]

	c.tdMu.Lock()
	c.tradingDay[key] = tradingDayEntry{info: info, expiresAt: time.Now().Add(24 * time.Hour)}
	c.tdMu.Unlock()
	return info, nil
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// withRetry wraps fn in the teacher's manual retry-loop idiom
// (binance_broker.go), sleeping Delay between attempts.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay):
			}
			continue
		}
		return nil
	}
	return lastErr
}
