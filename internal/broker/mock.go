package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chidi150c/hkwarrant-engine/internal/quote"
)

// MockGateway is an in-memory Gateway used by tests and dry runs. It
// generalizes the teacher's PaperBroker (broker_paper.go): deterministic
// quotes set by the test, instant fills on submit, no network calls.
type MockGateway struct {
	mu sync.Mutex

	subscribed map[string]bool
	quotes     map[string]quote.Quote
	candles    map[string][]quote.Candle
	static     map[string]quote.StaticInfo
	tradingDay map[string]quote.TradingDayInfo
	warrants   map[string][]WarrantInfo
	positions  []StockPosition
	balance    AccountBalance

	orders   map[string]*Order
	nextSeq  uint64
	onChange OrderChangedHandler

	// ReplaceSupported lets a test simulate a broker that rejects REPLACE
	// (spec §9 Open Question (c)); default true.
	ReplaceSupported bool
}

// NewMockGateway returns a ready-to-use mock with ReplaceSupported=true.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		subscribed:       make(map[string]bool),
		quotes:           make(map[string]quote.Quote),
		candles:          make(map[string][]quote.Candle),
		static:           make(map[string]quote.StaticInfo),
		tradingDay:       make(map[string]quote.TradingDayInfo),
		warrants:         make(map[string][]WarrantInfo),
		orders:           make(map[string]*Order),
		balance:          AccountBalance{Currency: "HKD", Cash: 1_000_000, BuyingPower: 1_000_000},
		ReplaceSupported: true,
	}
}

func (m *MockGateway) Name() string { return "mock" }

// SetQuote lets a test publish a quote directly into the cache, simulating
// a push.
func (m *MockGateway) SetQuote(q quote.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	q.PushSeq = m.nextSeq
	m.quotes[q.Symbol] = q
}

// SetCandles seeds the candle series returned by Candlesticks.
func (m *MockGateway) SetCandles(symbol string, c []quote.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = c
}

// SetStaticInfo seeds static-info warmup data.
func (m *MockGateway) SetStaticInfo(s quote.StaticInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.static[s.Symbol] = s
}

// SetTradingDay seeds the trading-day cache for a date key.
func (m *MockGateway) SetTradingDay(dateKey string, info quote.TradingDayInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingDay[dateKey] = info
}

// SetWarrants seeds the warrant list for an underlying.
func (m *MockGateway) SetWarrants(underlying string, list []WarrantInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warrants[underlying] = list
}

// SetPositions seeds StockPositions' return value.
func (m *MockGateway) SetPositions(p []StockPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = p
}

func (m *MockGateway) Subscribe(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.subscribed[s] = true
	}
	return nil
}

func (m *MockGateway) SetOnQuote(h QuoteHandler)                         {}
func (m *MockGateway) SetOnCandlestick(h CandlestickHandler)             {}
func (m *MockGateway) SetOnOrderChanged(h OrderChangedHandler)           { m.onChange = h }
func (m *MockGateway) SubscribePrivate(ctx context.Context) error        { return nil }

func (m *MockGateway) PullQuote(ctx context.Context, symbols []string) (map[string]*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*quote.Quote, len(symbols))
	for _, s := range symbols {
		if !m.subscribed[s] {
			return nil, ErrSymbolNotSubscribed
		}
		if q, ok := m.quotes[s]; ok {
			qc := q
			out[s] = &qc
		} else {
			out[s] = nil
		}
	}
	return out, nil
}

func (m *MockGateway) Candlesticks(ctx context.Context, symbol, period string, count int) ([]quote.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.candles[symbol]
	if len(c) > count {
		c = c[len(c)-count:]
	}
	out := make([]quote.Candle, len(c))
	copy(out, c)
	return out, nil
}

func (m *MockGateway) TradingDays(ctx context.Context, market string, from, to time.Time) (map[string]quote.TradingDayInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]quote.TradingDayInfo, len(m.tradingDay))
	for k, v := range m.tradingDay {
		out[k] = v
	}
	return out, nil
}

func (m *MockGateway) StaticInfo(ctx context.Context, symbols []string) (map[string]quote.StaticInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]quote.StaticInfo, len(symbols))
	for _, s := range symbols {
		out[s] = m.static[s]
	}
	return out, nil
}

func (m *MockGateway) WarrantList(ctx context.Context, underlying string, sortBy string, descending bool) ([]WarrantInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WarrantInfo, len(m.warrants[underlying]))
	copy(out, m.warrants[underlying])
	return out, nil
}

func (m *MockGateway) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := req.ClientOrderID
	if id == "" {
		id = uuid.New().String()
	}
	px := req.Price
	if px == 0 {
		if q, ok := m.quotes[req.Symbol]; ok {
			px = q.Price
		}
	}
	o := &Order{
		OrderID:           id,
		Symbol:            req.Symbol,
		Side:              req.Side,
		OrderType:         req.OrderType,
		Status:            StatusFilled,
		SubmittedQuantity: req.Quantity,
		ExecutedQuantity:  req.Quantity,
		ExecutedPrice:     px,
		SubmittedAt:       time.Now(),
		UpdatedAt:         time.Now(),
	}
	m.nextSeq++
	o.Sequence = m.nextSeq
	m.orders[id] = o
	if m.onChange != nil {
		m.onChange(*o)
	}
	return o, nil
}

func (m *MockGateway) ReplaceOrder(ctx context.Context, req ReplaceOrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ReplaceSupported {
		return nil, ErrReplaceUnsupported
	}
	o, ok := m.orders[req.OrderID]
	if !ok {
		return nil, ErrSymbolNotSubscribed
	}
	o.SubmittedQuantity = req.Quantity
	o.ExecutedPrice = req.Price
	o.UpdatedAt = time.Now()
	return o, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrSymbolNotSubscribed
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	if m.onChange != nil {
		m.onChange(*o)
	}
	return nil
}

func (m *MockGateway) TodayOrders(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *MockGateway) HistoryOrders(ctx context.Context, from, to time.Time) ([]Order, error) {
	return m.TodayOrders(ctx)
}

func (m *MockGateway) TodayExecutions(ctx context.Context) ([]Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Execution, 0, len(m.orders))
	for _, o := range m.orders {
		if o.ExecutedQuantity > 0 {
			out = append(out, Execution{
				OrderID: o.OrderID, Symbol: o.Symbol, Side: o.Side,
				Price: o.ExecutedPrice, Quantity: o.ExecutedQuantity, Time: o.UpdatedAt,
			})
		}
	}
	return out, nil
}

func (m *MockGateway) AccountBalance(ctx context.Context, currency string) (AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *MockGateway) StockPositions(ctx context.Context, symbols []string) ([]StockPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(symbols) == 0 {
		out := make([]StockPosition, len(m.positions))
		copy(out, m.positions)
		return out, nil
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []StockPosition
	for _, p := range m.positions {
		if want[p.Symbol] {
			out = append(out, p)
		}
	}
	return out, nil
}
