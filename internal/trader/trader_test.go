package trader

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/ledger"
	"github.com/chidi150c/hkwarrant-engine/internal/quote"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSignal(action strategy.Action, symbol string, qty int, price float64) *strategy.Signal {
	sig := strategy.Acquire()
	sig.Action = action
	sig.Symbol = symbol
	sig.SymbolName = symbol + " warrant"
	sig.Quantity = qty
	sig.Price = price
	sig.TriggerTime = time.Now()
	return sig
}

func TestResolveOrderTypeOverrideWins(t *testing.T) {
	sig := newSignal(strategy.ActionBuyCall, "62001", 1000, 0.5)
	defer strategy.Release(sig)
	sig.OrderTypeOverride = strategy.OrderTypeOverride(config.OrderTypeMarket)
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeLimit}

	if got := ResolveOrderType(sig, global); got != config.OrderTypeMarket {
		t.Fatalf("expected override market order, got %s", got)
	}
}

func TestResolveOrderTypeLiquidationVsTrading(t *testing.T) {
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeMarket}

	trading := newSignal(strategy.ActionSellCall, "62001", 500, 0.4)
	defer strategy.Release(trading)
	if got := ResolveOrderType(trading, global); got != config.OrderTypeLimit {
		t.Fatalf("expected trading order type LO, got %s", got)
	}

	liquidation := newSignal(strategy.ActionSellCall, "62001", 500, 0.4)
	defer strategy.Release(liquidation)
	liquidation.IsProtectiveLiquidation = true
	if got := ResolveOrderType(liquidation, global); got != config.OrderTypeMarket {
		t.Fatalf("expected liquidation order type MO, got %s", got)
	}
}

func TestDecideSellMergeNoPendingSubmits(t *testing.T) {
	if got := DecideSellMerge(nil, config.OrderTypeLimit, false); got != DecisionSubmit {
		t.Fatalf("expected SUBMIT, got %s", got)
	}
}

func TestDecideSellMergeSingleSameTypeReplaces(t *testing.T) {
	pending := []ledger.PendingSellOrder{{OrderID: "s1", Status: ledger.PendingSellLive, OrderType: "LO"}}
	if got := DecideSellMerge(pending, config.OrderTypeLimit, false); got != DecisionReplace {
		t.Fatalf("expected REPLACE, got %s", got)
	}
}

func TestDecideSellMergeMarketOrderNeverReplaces(t *testing.T) {
	pending := []ledger.PendingSellOrder{{OrderID: "s1", Status: ledger.PendingSellLive, OrderType: "MO"}}
	if got := DecideSellMerge(pending, config.OrderTypeMarket, false); got != DecisionCancelAndSubmit {
		t.Fatalf("expected CANCEL_AND_SUBMIT for market orders, got %s", got)
	}
}

func TestDecideSellMergeProtectiveLiquidationAlwaysCancelAndSubmit(t *testing.T) {
	pending := []ledger.PendingSellOrder{{OrderID: "s1", Status: ledger.PendingSellLive, OrderType: "LO"}}
	if got := DecideSellMerge(pending, config.OrderTypeLimit, true); got != DecisionCancelAndSubmit {
		t.Fatalf("expected CANCEL_AND_SUBMIT under protective liquidation, got %s", got)
	}
}

func TestDecideSellMergeMultiplePendingCancelAndSubmit(t *testing.T) {
	pending := []ledger.PendingSellOrder{
		{OrderID: "s1", Status: ledger.PendingSellLive, OrderType: "LO"},
		{OrderID: "s2", Status: ledger.PendingSellLive, OrderType: "LO"},
	}
	if got := DecideSellMerge(pending, config.OrderTypeLimit, false); got != DecisionCancelAndSubmit {
		t.Fatalf("expected CANCEL_AND_SUBMIT with >1 pending, got %s", got)
	}
}

func TestSubmitBuyReconcilesLedgerOnInstantFill(t *testing.T) {
	gw := broker.NewMockGateway()
	gw.SetQuote(quoteAt("62001", 0.52))
	rec := ledger.New()
	tr := New(gw, rec, testLogger(), t.TempDir())

	sig := newSignal(strategy.ActionBuyCall, "62001", 1000, 0.52)
	defer strategy.Release(sig)
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeMarket}

	order, err := tr.SubmitBuy(context.Background(), sig, global, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != broker.StatusFilled {
		t.Fatalf("expected mock gateway to instant-fill, got %s", order.Status)
	}

	avg, ok := rec.GetCostAveragePrice("62001", registry.Long)
	if !ok || avg != 0.52 {
		t.Fatalf("expected ledger to record the fill at 0.52, got %v ok=%v", avg, ok)
	}
	if tr.pendingLen() != 0 {
		t.Fatalf("expected the filled order to be removed from pending tracking, got %d", tr.pendingLen())
	}
}

func TestSubmitSellFreshReservesThenInstantFillClearsBuy(t *testing.T) {
	gw := broker.NewMockGateway()
	gw.SetQuote(quoteAt("62001", 0.60))
	rec := ledger.New()
	rec.RecordLocalBuy("62001", registry.Long, ledger.OrderRecord{
		OrderID: "buy1", Symbol: "62001", ExecutedPrice: 0.50, ExecutedQuantity: 1000, ExecutedTime: time.Now(),
	})
	tr := New(gw, rec, testLogger(), t.TempDir())
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeMarket}

	sig := newSignal(strategy.ActionSellCall, "62001", 1000, 0.60)
	defer strategy.Release(sig)
	sig.RelatedBuyOrderIDs = []string{"buy1"}

	order, err := tr.SubmitSell(context.Background(), sig, global, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != broker.StatusFilled {
		t.Fatalf("expected instant fill, got %s", order.Status)
	}
	if _, ok := rec.GetCostAveragePrice("62001", registry.Long); ok {
		t.Fatal("expected the fully sold buy to be cleared from the ledger")
	}
}

// replaceAlwaysGateway wraps the mock to accept ReplaceOrder unconditionally,
// since the mock's own ReplaceOrder requires the order id to have gone
// through its SubmitOrder first — this test seeds the pending sell directly
// into the ledger to exercise the trader's REPLACE wiring in isolation.
type replaceAlwaysGateway struct {
	*broker.MockGateway
}

func (g *replaceAlwaysGateway) ReplaceOrder(ctx context.Context, req broker.ReplaceOrderRequest) (*broker.Order, error) {
	return &broker.Order{
		OrderID: req.OrderID, Symbol: "62001", Side: broker.SideSell, OrderType: broker.OrderTypeLimit,
		Status: broker.StatusNew, SubmittedQuantity: req.Quantity, ExecutedPrice: req.Price,
		SubmittedAt: time.Now(), UpdatedAt: time.Now(),
	}, nil
}

func TestSubmitSellReplaceMergesIntoExistingPendingOrder(t *testing.T) {
	gw := &replaceAlwaysGateway{MockGateway: broker.NewMockGateway()}
	rec := ledger.New()
	rec.RecordLocalBuy("62001", registry.Long, ledger.OrderRecord{
		OrderID: "buy1", Symbol: "62001", ExecutedPrice: 0.50, ExecutedQuantity: 2000, ExecutedTime: time.Now(),
	})
	rec.SubmitSellOrder("62001", registry.Long, "existing-sell", 500, []string{"buy1"}, string(config.OrderTypeLimit))
	tr := New(gw, rec, testLogger(), t.TempDir())
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeMarket}

	sig := newSignal(strategy.ActionSellCall, "62001", 300, 0.55)
	defer strategy.Release(sig)
	sig.RelatedBuyOrderIDs = []string{"buy1"}

	_, err := tr.SubmitSell(context.Background(), sig, global, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := rec.PendingSellSnapshot("62001", registry.Long)
	if len(snap) != 1 {
		t.Fatalf("expected replace to merge into a single pending sell, got %d", len(snap))
	}
	if snap[0].SubmittedQuantity != 800 {
		t.Fatalf("expected merged quantity 800 (500+300), got %d", snap[0].SubmittedQuantity)
	}
}

func TestSubmitSellCancelAndSubmitWhenMultiplePending(t *testing.T) {
	gw := broker.NewMockGateway()
	gw.SetQuote(quoteAt("62001", 0.55))
	rec := ledger.New()
	rec.RecordLocalBuy("62001", registry.Long, ledger.OrderRecord{
		OrderID: "buy1", Symbol: "62001", ExecutedPrice: 0.50, ExecutedQuantity: 3000, ExecutedTime: time.Now(),
	})
	// Two live pending sells sharing a book forces CANCEL_AND_SUBMIT
	// (DecideSellMerge only considers REPLACE when exactly one exists).
	rec.SubmitSellOrder("62001", registry.Long, "p1", 100, []string{"buy1"}, string(config.OrderTypeLimit))
	rec.SubmitSellOrder("62001", registry.Long, "p2", 150, []string{"buy1"}, string(config.OrderTypeLimit))

	tr := New(gw, rec, testLogger(), t.TempDir())
	global := config.GlobalConfig{TradingOrderType: config.OrderTypeLimit, LiquidationOrderType: config.OrderTypeMarket}

	sig := newSignal(strategy.ActionSellCall, "62001", 150, 0.55)
	defer strategy.Release(sig)
	sig.RelatedBuyOrderIDs = []string{"buy1"}

	order, err := tr.SubmitSell(context.Background(), sig, global, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ExecutedQuantity < sig.Quantity {
		// the mock gateway doesn't know about p1/p2 (never actually
		// submitted through it), so their cancel calls fail and release
		// nothing; the merged order still must cover at least the new qty.
		t.Fatalf("expected cancel-and-submit to cover at least the new 150 qty, got %d", order.ExecutedQuantity)
	}
	if len(rec.PendingSellSnapshot("62001", registry.Long)) != 2 {
		t.Fatalf("expected p1/p2 to remain pending (uncancellable by the mock, which never saw them) "+
			"while the fresh merged sell instant-fills and clears, got %d",
			len(rec.PendingSellSnapshot("62001", registry.Long)))
	}
}

func TestCheckTimeoutsCancelsStaleLiveOrder(t *testing.T) {
	gw := broker.NewMockGateway()
	gw.ReplaceSupported = false // irrelevant for this path but exercises the flag
	rec := ledger.New()
	tr := New(gw, rec, testLogger(), t.TempDir())

	tr.registerPending("stuck-order", "62001", registry.Long, -time.Minute) // already expired
	tr.mu.Lock()
	tr.pendingOrders["stuck-order"].Order.Status = broker.StatusNew
	tr.mu.Unlock()

	tr.CheckTimeouts(context.Background(), time.Now())

	if tr.pendingLen() != 0 {
		t.Fatalf("expected the expired order to be dropped from pending tracking, got %d", tr.pendingLen())
	}
}

// countingGateway wraps the mock and counts TodayOrders calls, to verify
// GetPendingOrders serves the second call from its 15s cache instead of
// refetching.
type countingGateway struct {
	*broker.MockGateway
	calls int
}

func (g *countingGateway) TodayOrders(ctx context.Context) ([]broker.Order, error) {
	g.calls++
	return g.MockGateway.TodayOrders(ctx)
}

func TestGetPendingOrdersCachesWithinTTL(t *testing.T) {
	gw := &countingGateway{MockGateway: broker.NewMockGateway()}
	rec := ledger.New()
	tr := New(gw, rec, testLogger(), t.TempDir())

	if _, err := tr.GetPendingOrders(context.Background(), []string{"62001"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.GetPendingOrders(context.Background(), []string{"62001"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.calls != 1 {
		t.Fatalf("expected the second call within the 15s TTL to hit cache, got %d broker fetches", gw.calls)
	}

	if _, err := tr.GetPendingOrders(context.Background(), []string{"62001"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.calls != 2 {
		t.Fatalf("expected forceRefresh to bypass the cache, got %d broker fetches", gw.calls)
	}
}

func TestCanTradeNowRespectsInterval(t *testing.T) {
	tr := &Trader{}
	now := time.Now()
	last := now.Add(-30 * time.Second)

	if can, _ := tr.CanTradeNow(last, now, time.Minute); can {
		t.Fatal("expected cooldown still active at 30s into a 60s interval")
	}
	if can, wait := tr.CanTradeNow(last, now, time.Minute); can || wait <= 0 {
		t.Fatalf("expected a positive wait, got can=%v wait=%v", can, wait)
	}
	if can, _ := tr.CanTradeNow(last, now.Add(40*time.Second), time.Minute); !can {
		t.Fatal("expected cooldown cleared after the full interval elapses")
	}
}

func quoteAt(symbol string, price float64) quote.Quote {
	return quote.Quote{Symbol: symbol, Price: price, Timestamp: time.Now(), LotSize: 1000}
}
