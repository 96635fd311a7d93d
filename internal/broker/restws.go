package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/chidi150c/hkwarrant-engine/internal/quote"
)

// RestWSGateway is the production Gateway: REST for pull calls and order
// management, a websocket connection for quote/candle/order-changed push.
// Construction follows 0xtitan6-polymarket-mm's internal/exchange.Client
// (retried resty client, base URL + timeout) for the REST side, and
// ndrandal-feed-simulator's internal/session.Client (a send channel per
// push consumer) for the push side.
type RestWSGateway struct {
	http   *resty.Client
	logger *slog.Logger

	wsURL string
	mu    sync.Mutex
	conn  *websocket.Conn

	onQuote       QuoteHandler
	onCandlestick CandlestickHandler
	onOrderChange OrderChangedHandler

	seq uint64
}

// Config bundles the connection parameters a production deployment needs.
type Config struct {
	RESTBaseURL string
	WSURL       string
	Timeout     time.Duration
	RetryCount  int
	RetryWait   time.Duration
}

// NewRestWSGateway builds a REST+WS gateway with retry/backoff matching
// spec §4.1's "each pull call is wrapped in N retries with delay (defaults
// N=3, 200ms)".
func NewRestWSGateway(cfg Config, logger *slog.Logger) *RestWSGateway {
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	return &RestWSGateway{
		http:   httpClient,
		logger: logger,
		wsURL:  cfg.WSURL,
	}
}

func (g *RestWSGateway) Name() string { return "rest-ws" }

// Connect dials the push websocket and starts the read pump. Safe to call
// once at startup; reconnection on drop is left to the caller's tick loop
// the way the teacher's live loop simply re-fetches on the next tick
// rather than maintaining a persistent reconnect state machine.
func (g *RestWSGateway) Connect(ctx context.Context) error {
	if g.wsURL == "" {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.wsURL, nil)
	if err != nil {
		return fmt.Errorf("broker: dial ws: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	go g.readPump()
	return nil
}

func (g *RestWSGateway) readPump() {
	for {
		g.mu.Lock()
		conn := g.conn
		g.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.logger.Warn("broker: ws read error", "err", err)
			return
		}
		g.dispatchPush(data)
	}
}

type pushEnvelope struct {
	Type  string          `json:"type"`
	Order *Order          `json:"order,omitempty"`
	Quote *quote.Quote    `json:"quote,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

func (g *RestWSGateway) dispatchPush(data []byte) {
	var env pushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.logger.Warn("broker: malformed push", "err", err)
		return
	}
	g.seq++
	switch env.Type {
	case "order_changed":
		if env.Order != nil && g.onOrderChange != nil {
			o := *env.Order
			o.Sequence = g.seq
			g.onOrderChange(o)
		}
	case "quote":
		if env.Quote != nil && g.onQuote != nil {
			q := *env.Quote
			q.PushSeq = g.seq
			g.onQuote(q)
		}
	}
}

func (g *RestWSGateway) Subscribe(ctx context.Context, symbols []string) error {
	_, err := g.http.R().SetContext(ctx).SetBody(map[string]any{"symbols": symbols}).Post("/subscribe")
	return err
}

func (g *RestWSGateway) SetOnQuote(h QuoteHandler)                   { g.onQuote = h }
func (g *RestWSGateway) SetOnCandlestick(h CandlestickHandler)       { g.onCandlestick = h }
func (g *RestWSGateway) SetOnOrderChanged(h OrderChangedHandler)     { g.onOrderChange = h }
func (g *RestWSGateway) SubscribePrivate(ctx context.Context) error  { return g.Connect(ctx) }

func (g *RestWSGateway) PullQuote(ctx context.Context, symbols []string) (map[string]*quote.Quote, error) {
	var result map[string]*quote.Quote
	resp, err := g.http.R().SetContext(ctx).SetResult(&result).SetQueryParamsFromValues(nil).
		SetBody(map[string]any{"symbols": symbols}).Post("/quote")
	if err != nil {
		return nil, fmt.Errorf("broker: quote: %w", err)
	}
	if resp.StatusCode() == http.StatusUnprocessableEntity {
		return nil, ErrSymbolNotSubscribed
	}
	return result, nil
}

func (g *RestWSGateway) Candlesticks(ctx context.Context, symbol, period string, count int) ([]quote.Candle, error) {
	var result []quote.Candle
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetQueryParam("symbol", symbol).
		SetQueryParam("period", period).
		SetQueryParam("count", strconv.Itoa(count)).
		Get("/candlesticks")
	if err != nil {
		return nil, fmt.Errorf("broker: candlesticks: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) TradingDays(ctx context.Context, market string, from, to time.Time) (map[string]quote.TradingDayInfo, error) {
	var result map[string]quote.TradingDayInfo
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetQueryParam("market", market).
		SetQueryParam("from", from.Format("2006-01-02")).
		SetQueryParam("to", to.Format("2006-01-02")).
		Get("/trading-days")
	if err != nil {
		return nil, fmt.Errorf("broker: trading days: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) StaticInfo(ctx context.Context, symbols []string) (map[string]quote.StaticInfo, error) {
	var result map[string]quote.StaticInfo
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetBody(map[string]any{"symbols": symbols}).Post("/static-info")
	if err != nil {
		return nil, fmt.Errorf("broker: static info: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) WarrantList(ctx context.Context, underlying string, sortBy string, descending bool) ([]WarrantInfo, error) {
	var result []WarrantInfo
	order := "asc"
	if descending {
		order = "desc"
	}
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetQueryParam("underlying", underlying).
		SetQueryParam("sort_by", sortBy).
		SetQueryParam("order", order).
		Get("/warrant-list")
	if err != nil {
		return nil, fmt.Errorf("broker: warrant list: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error) {
	var result Order
	resp, err := g.http.R().SetContext(ctx).SetResult(&result).SetBody(req).Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("broker: submit order: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("broker: submit order rejected: %s", resp.String())
	}
	return &result, nil
}

func (g *RestWSGateway) ReplaceOrder(ctx context.Context, req ReplaceOrderRequest) (*Order, error) {
	var result Order
	resp, err := g.http.R().SetContext(ctx).SetResult(&result).SetBody(req).Put("/orders/" + req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("broker: replace order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotImplemented {
		return nil, ErrReplaceUnsupported
	}
	return &result, nil
}

func (g *RestWSGateway) CancelOrder(ctx context.Context, orderID string) error {
	_, err := g.http.R().SetContext(ctx).Delete("/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("broker: cancel order: %w", err)
	}
	return nil
}

func (g *RestWSGateway) TodayOrders(ctx context.Context) ([]Order, error) {
	var result []Order
	_, err := g.http.R().SetContext(ctx).SetResult(&result).Get("/orders/today")
	if err != nil {
		return nil, fmt.Errorf("broker: today orders: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) HistoryOrders(ctx context.Context, from, to time.Time) ([]Order, error) {
	var result []Order
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetQueryParam("from", from.Format(time.RFC3339)).
		SetQueryParam("to", to.Format(time.RFC3339)).
		Get("/orders/history")
	if err != nil {
		return nil, fmt.Errorf("broker: history orders: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) TodayExecutions(ctx context.Context) ([]Execution, error) {
	var result []Execution
	_, err := g.http.R().SetContext(ctx).SetResult(&result).Get("/executions/today")
	if err != nil {
		return nil, fmt.Errorf("broker: today executions: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) AccountBalance(ctx context.Context, currency string) (AccountBalance, error) {
	var result AccountBalance
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetQueryParam("currency", currency).Get("/account/balance")
	if err != nil {
		return AccountBalance{}, fmt.Errorf("broker: account balance: %w", err)
	}
	return result, nil
}

func (g *RestWSGateway) StockPositions(ctx context.Context, symbols []string) ([]StockPosition, error) {
	var result []StockPosition
	_, err := g.http.R().SetContext(ctx).SetResult(&result).
		SetBody(map[string]any{"symbols": symbols}).Post("/positions")
	if err != nil {
		return nil, fmt.Errorf("broker: stock positions: %w", err)
	}
	return result, nil
}
