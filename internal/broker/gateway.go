// Package broker defines the narrow capability interface the engine uses
// to talk to the brokerage gateway (spec §6 "External interfaces"), plus
// two implementations: an in-memory mockGateway for tests (generalizing
// the teacher's broker_paper.go) and a production restWSGateway combining
// a retried REST client (grounded on 0xtitan6-polymarket-mm's resty
// client) with a websocket push client (grounded on ndrandal-feed-
// simulator's session client).
//
// This is the "dynamic dispatch over the brokerage SDK" boundary spec §9
// calls for: one interface, one production impl, one mock impl.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/quote"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType mirrors config.OrderType without importing internal/config
// (keeps this package dependency-free of config so mocks stay trivial).
type OrderType string

const (
	OrderTypeLimit  OrderType = "LO"
	OrderTypeMarket OrderType = "MO"
)

// TimeInForce is the broker's order lifetime policy.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
)

// OrderStatus mirrors the broker's push/poll order lifecycle states.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusWaitToNew        OrderStatus = "WaitToNew"
	StatusPartialFilled    OrderStatus = "PartialFilled"
	StatusFilled           OrderStatus = "Filled"
	StatusWaitToReplace     OrderStatus = "WaitToReplace"
	StatusPendingReplace    OrderStatus = "PendingReplace"
	StatusCancelled         OrderStatus = "Cancelled"
	StatusRejected          OrderStatus = "Rejected"
)

// IsLive reports whether an order in this status can still receive fills
// or be replaced/cancelled.
func (s OrderStatus) IsLive() bool {
	switch s {
	case StatusNew, StatusWaitToNew, StatusPartialFilled, StatusWaitToReplace, StatusPendingReplace:
		return true
	default:
		return false
	}
}

// SubmitOrderRequest is the normalized order-placement payload (spec §6).
type SubmitOrderRequest struct {
	Symbol        string
	Side          Side
	OrderType     OrderType
	TimeInForce   TimeInForce
	Quantity      int
	Price         float64 // ignored for OrderTypeMarket
	ClientOrderID string
}

// ReplaceOrderRequest mirrors the broker's replace-order call.
type ReplaceOrderRequest struct {
	OrderID  string
	Quantity int
	Price    float64
}

// Order is a broker-reported order (live or historical).
type Order struct {
	OrderID           string
	Symbol            string
	Side              Side
	OrderType         OrderType
	Status            OrderStatus
	SubmittedQuantity int
	ExecutedQuantity  int
	ExecutedPrice     float64
	SubmittedAt       time.Time
	UpdatedAt         time.Time
	Sequence          uint64 // push ordering (spec §5 "event bus merges by sequence")
}

// Execution is one fill event from todayExecutions().
type Execution struct {
	OrderID  string
	Symbol   string
	Side     Side
	Price    float64
	Quantity int
	Time     time.Time
}

// AccountBalance is a coarse snapshot of available cash.
type AccountBalance struct {
	Currency       string
	Cash           float64
	BuyingPower    float64
}

// StockPosition is a broker-reported position (spec §3 "Position").
type StockPosition struct {
	Symbol            string
	Quantity          int
	AvailableQuantity int
	CostPrice         float64
	Currency          string
	Market            string
}

// WarrantInfo describes one CBBC candidate returned by warrantList (spec
// §4.10 auto-symbol search).
type WarrantInfo struct {
	Symbol               string
	Name                 string
	CallPrice            float64
	IsBull               bool
	TurnoverPerMinute    float64
	ExpiryMonthsRemaining float64
	DistancePercent      float64
}

// ErrSymbolNotSubscribed is the config/structural error spec §7 requires
// when a caller requests a quote for a symbol never subscribed.
var ErrSymbolNotSubscribed = errors.New("broker: symbol not subscribed")

// ErrReplaceUnsupported lets a Gateway implementation signal that in-place
// quantity/price replace isn't supported; Trader.SubmitSell then falls back
// to CANCEL_AND_SUBMIT, as it does on any ReplaceOrder error (spec §9 Open
// Question (c)).
var ErrReplaceUnsupported = errors.New("broker: replace not supported")

// OrderChangedHandler receives push events from setOnOrderChanged.
type OrderChangedHandler func(Order)

// QuoteHandler receives push events from setOnQuote.
type QuoteHandler func(quote.Quote)

// CandlestickHandler receives push events from setOnCandlestick.
type CandlestickHandler func(symbol string, period string, c quote.Candle)

// Gateway is the full capability surface spec §6 names across both the
// quote channel and the trade channel.
type Gateway interface {
	// Quote channel
	Subscribe(ctx context.Context, symbols []string) error
	SetOnQuote(h QuoteHandler)
	SetOnCandlestick(h CandlestickHandler)
	PullQuote(ctx context.Context, symbols []string) (map[string]*quote.Quote, error)
	Candlesticks(ctx context.Context, symbol, period string, count int) ([]quote.Candle, error)
	TradingDays(ctx context.Context, market string, from, to time.Time) (map[string]quote.TradingDayInfo, error)
	StaticInfo(ctx context.Context, symbols []string) (map[string]quote.StaticInfo, error)
	WarrantList(ctx context.Context, underlying string, sortBy string, descending bool) ([]WarrantInfo, error)

	// Trade channel
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error)
	ReplaceOrder(ctx context.Context, req ReplaceOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	TodayOrders(ctx context.Context) ([]Order, error)
	HistoryOrders(ctx context.Context, from, to time.Time) ([]Order, error)
	TodayExecutions(ctx context.Context) ([]Execution, error)
	AccountBalance(ctx context.Context, currency string) (AccountBalance, error)
	StockPositions(ctx context.Context, symbols []string) ([]StockPosition, error)
	SubscribePrivate(ctx context.Context) error
	SetOnOrderChanged(h OrderChangedHandler)

	Name() string
}
