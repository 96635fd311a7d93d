// Package trader is the order executor (spec §4.8): resolves the order
// type to submit, decides whether a sell should replace/merge with an
// existing pending sell or go out as a fresh order, enforces per-order
// timeouts, and reconciles broker order-changed push events back into the
// ledger. Grounded on the teacher's closeLot/RehydratePending machinery in
// trader.go — the same "submit, poll/subscribe, reconcile, timeout-cancel"
// shape, generalized from a single-symbol maker-first flow to the spec's
// multi-symbol sell-merge decision tree.
package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/doomsday"
	"github.com/chidi150c/hkwarrant-engine/internal/ledger"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
	"github.com/google/uuid"
)

// SellMergeDecision is the outcome of the sell-merge decision function
// (spec §4.8).
type SellMergeDecision string

const (
	DecisionSubmit          SellMergeDecision = "SUBMIT"
	DecisionReplace         SellMergeDecision = "REPLACE"
	DecisionCancelAndSubmit SellMergeDecision = "CANCEL_AND_SUBMIT"
)

// ResolveOrderType applies the priority signal.orderTypeOverride >
// (isProtectiveLiquidation ? liquidationOrderType : tradingOrderType)
// (spec §4.8).
func ResolveOrderType(sig *strategy.Signal, global config.GlobalConfig) config.OrderType {
	if sig.OrderTypeOverride != "" {
		return config.OrderType(sig.OrderTypeOverride)
	}
	if sig.IsProtectiveLiquidation {
		return global.LiquidationOrderType
	}
	return global.TradingOrderType
}

// DecideSellMerge implements spec §4.8's sell-merge decision function.
func DecideSellMerge(pending []ledger.PendingSellOrder, newOrderType config.OrderType, isProtectiveLiquidation bool) SellMergeDecision {
	if len(pending) == 0 {
		return DecisionSubmit
	}
	if len(pending) == 1 {
		p := pending[0]
		same := config.OrderType(p.OrderType) == newOrderType
		liveStatus := p.Status == ledger.PendingSellLive
		notMarket := newOrderType != config.OrderTypeMarket
		if same && liveStatus && notMarket && !isProtectiveLiquidation {
			return DecisionReplace
		}
	}
	return DecisionCancelAndSubmit
}

// TradeRecord is one append-only JSON trade log entry (spec §6 "Persisted
// state").
type TradeRecord struct {
	OrderID               string  `json:"orderId"`
	Symbol                string  `json:"symbol"`
	SymbolName            string  `json:"symbolName"`
	MonitorSymbol         string  `json:"monitorSymbol"`
	Action                string  `json:"action"`
	Side                  string  `json:"side"`
	Quantity              int     `json:"quantity"`
	Price                 float64 `json:"price"`
	OrderType             string  `json:"orderType"`
	Status                string  `json:"status"`
	Error                 string  `json:"error,omitempty"`
	Reason                string  `json:"reason,omitempty"`
	SignalTriggerTime     string  `json:"signalTriggerTime,omitempty"`
	ExecutedAt            string  `json:"executedAt,omitempty"`
	ExecutedAtMs          int64   `json:"executedAtMs,omitempty"`
	Timestamp             string  `json:"timestamp"`
	IsProtectiveClearance bool    `json:"isProtectiveClearance"`
}

// PendingOrder is one order the trader is actively timing out / monitoring
// (spec §4.8 "getPendingOrders").
type PendingOrder struct {
	Order     broker.Order
	Symbol    string
	Direction registry.Direction
	Deadline  time.Time
}

var livePendingStatuses = map[broker.OrderStatus]struct{}{
	broker.StatusNew:            {},
	broker.StatusPartialFilled:  {},
	broker.StatusWaitToNew:      {},
	broker.StatusWaitToReplace:  {},
	broker.StatusPendingReplace: {},
}

// Trader is the order executor.
type Trader struct {
	gw       broker.Gateway
	recorder *ledger.Recorder
	logger   *slog.Logger
	logRoot  string

	mu             sync.Mutex
	pendingOrders  map[string]*PendingOrder // orderID -> pending
	cacheAt        time.Time
	cacheSymbols   []string
	cachedOrders   []broker.Order
}

// New builds a Trader bound to gw and rec, writing trade logs under
// logRoot/trades/YYYY-MM-DD.json.
func New(gw broker.Gateway, rec *ledger.Recorder, logger *slog.Logger, logRoot string) *Trader {
	t := &Trader{
		gw:            gw,
		recorder:      rec,
		logger:        logger,
		logRoot:       logRoot,
		pendingOrders: make(map[string]*PendingOrder),
	}
	gw.SetOnOrderChanged(t.onOrderChanged)
	return t
}

// SubmitBuy places a buy order for sig at the resolved order type, timing
// it out after timeout if not fully filled.
//
// The client order id is minted before the broker call and pre-registered
// as pending: a gateway (including the mock) may invoke the order-changed
// callback synchronously from inside SubmitOrder, before control returns
// here, and a fill arriving on an unregistered order id would be silently
// dropped instead of reconciled into the ledger.
func (t *Trader) SubmitBuy(ctx context.Context, sig *strategy.Signal, global config.GlobalConfig, timeout time.Duration) (broker.Order, error) {
	orderType := ResolveOrderType(sig, global)
	clientOrderID := uuid.New().String()
	t.registerPending(clientOrderID, sig.Symbol, sig.Action.Direction(), timeout)

	req := broker.SubmitOrderRequest{
		Symbol:        sig.Symbol,
		Side:          broker.SideBuy,
		OrderType:     broker.OrderType(orderType),
		TimeInForce:   broker.TIFDay,
		Quantity:      sig.Quantity,
		Price:         sig.Price,
		ClientOrderID: clientOrderID,
	}
	order, err := t.gw.SubmitOrder(ctx, req)
	if err != nil {
		t.forgetPending(clientOrderID)
		t.appendTradeRecord(sig, string(broker.SideBuy), "", string(orderType), "error", err.Error())
		return broker.Order{}, fmt.Errorf("trader: submit buy %s: %w", sig.Symbol, err)
	}
	t.appendTradeRecord(sig, string(broker.SideBuy), order.OrderID, string(orderType), string(order.Status), "")
	return *order, nil
}

// SubmitSell performs the sell-merge decision (spec §4.8) before placing a
// sell order for sig, covering qty shares drawn from relatedBuyOrderIDs.
func (t *Trader) SubmitSell(ctx context.Context, sig *strategy.Signal, global config.GlobalConfig, timeout time.Duration) (broker.Order, error) {
	orderType := ResolveOrderType(sig, global)
	dir := sig.Action.Direction()
	pending := t.recorder.PendingSellSnapshot(sig.Symbol, dir)
	decision := DecideSellMerge(pending, orderType, sig.IsProtectiveLiquidation)

	switch decision {
	case DecisionReplace:
		p := pending[0]
		t.registerPending(p.OrderID, sig.Symbol, dir, timeout)
		order, err := t.gw.ReplaceOrder(ctx, broker.ReplaceOrderRequest{
			OrderID: p.OrderID, Quantity: p.SubmittedQuantity + sig.Quantity, Price: sig.Price,
		})
		if err != nil {
			t.logger.Warn("trader.replace_failed_fallback_cancel_and_submit", "symbol", sig.Symbol, "err", err)
			return t.cancelAndSubmitSell(ctx, sig, pending, orderType, timeout)
		}
		t.recorder.SubmitSellOrder(sig.Symbol, dir, order.OrderID, p.SubmittedQuantity+sig.Quantity,
			append(p.RelatedBuyOrderIDs, sig.RelatedBuyOrderIDs...), string(orderType))
		t.appendTradeRecord(sig, string(broker.SideSell), order.OrderID, string(orderType), string(order.Status), "")
		return *order, nil
	case DecisionCancelAndSubmit:
		return t.cancelAndSubmitSell(ctx, sig, pending, orderType, timeout)
	default: // DecisionSubmit
		return t.submitFreshSell(ctx, sig, orderType, timeout)
	}
}

// submitFreshSell reserves the ledger entry and the pending-order tracking
// slot under a client-minted order id before calling the gateway, since a
// synchronous fill push (as the mock issues) must find both already in
// place to reconcile correctly.
func (t *Trader) submitFreshSell(ctx context.Context, sig *strategy.Signal, orderType config.OrderType, timeout time.Duration) (broker.Order, error) {
	clientOrderID := uuid.New().String()
	dir := sig.Action.Direction()
	t.registerPending(clientOrderID, sig.Symbol, dir, timeout)
	t.recorder.SubmitSellOrder(sig.Symbol, dir, clientOrderID, sig.Quantity, sig.RelatedBuyOrderIDs, string(orderType))

	req := broker.SubmitOrderRequest{
		Symbol: sig.Symbol, Side: broker.SideSell, OrderType: broker.OrderType(orderType),
		TimeInForce: broker.TIFDay, Quantity: sig.Quantity, Price: sig.Price,
		ClientOrderID: clientOrderID,
	}
	order, err := t.gw.SubmitOrder(ctx, req)
	if err != nil {
		t.forgetPending(clientOrderID)
		if markErr := t.recorder.MarkSellCancelled(sig.Symbol, dir, clientOrderID); markErr != nil {
			t.logger.Warn("trader.release_reservation_after_submit_failure_failed", "order_id", clientOrderID, "err", markErr)
		}
		t.appendTradeRecord(sig, string(broker.SideSell), "", string(orderType), "error", err.Error())
		return broker.Order{}, fmt.Errorf("trader: submit sell %s: %w", sig.Symbol, err)
	}
	t.appendTradeRecord(sig, string(broker.SideSell), order.OrderID, string(orderType), string(order.Status), "")
	return *order, nil
}

func (t *Trader) cancelAndSubmitSell(ctx context.Context, sig *strategy.Signal, pending []ledger.PendingSellOrder, orderType config.OrderType, timeout time.Duration) (broker.Order, error) {
	totalQty := sig.Quantity
	related := append([]string(nil), sig.RelatedBuyOrderIDs...)
	for _, p := range pending {
		if err := t.gw.CancelOrder(ctx, p.OrderID); err != nil {
			t.logger.Warn("trader.cancel_failed", "order_id", p.OrderID, "err", err)
			continue
		}
		if err := t.recorder.MarkSellCancelled(sig.Symbol, sig.Action.Direction(), p.OrderID); err != nil {
			t.logger.Warn("trader.mark_cancelled_failed", "order_id", p.OrderID, "err", err)
		}
		totalQty += p.SubmittedQuantity - p.ExecutedQuantity
		related = append(related, p.RelatedBuyOrderIDs...)
	}
	merged := strategy.Acquire()
	*merged = *sig
	merged.Quantity = totalQty
	merged.RelatedBuyOrderIDs = related
	defer strategy.Release(merged)
	return t.submitFreshSell(ctx, merged, orderType, timeout)
}

// registerPending pre-registers orderID as pending before the broker call
// that will use it, so a synchronous order-changed push arriving from
// inside that call finds a known entry to reconcile against.
func (t *Trader) registerPending(orderID, symbol string, dir registry.Direction, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingOrders[orderID] = &PendingOrder{
		Order:     broker.Order{OrderID: orderID, Symbol: symbol, Status: broker.StatusNew},
		Symbol:    symbol,
		Direction: dir,
		Deadline:  time.Now().Add(timeout),
	}
}

func (t *Trader) forgetPending(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingOrders, orderID)
}

// pendingLen reports the number of orders currently tracked for timeout
// (for metrics and tests).
func (t *Trader) pendingLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingOrders)
}

// CheckTimeouts cancels any tracked order whose deadline has passed and is
// still live (spec §4.8 "if not fully filled within the window and still
// alive, cancel").
func (t *Trader) CheckTimeouts(ctx context.Context, now time.Time) {
	t.mu.Lock()
	var expired []*PendingOrder
	for id, p := range t.pendingOrders {
		if now.After(p.Deadline) {
			expired = append(expired, p)
			delete(t.pendingOrders, id)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		if !p.Order.Status.IsLive() {
			continue
		}
		if err := t.gw.CancelOrder(ctx, p.Order.OrderID); err != nil {
			t.logger.Warn("trader.timeout_cancel_failed", "order_id", p.Order.OrderID, "err", err)
		}
	}
}

// onOrderChanged reconciles a broker push into the ledger (spec §4.8
// "WebSocket reconciliation").
func (t *Trader) onOrderChanged(order broker.Order) {
	t.mu.Lock()
	p, known := t.pendingOrders[order.OrderID]
	if order.Status == broker.StatusFilled || order.Status == broker.StatusCancelled || order.Status == broker.StatusRejected {
		delete(t.pendingOrders, order.OrderID)
	} else if p != nil {
		p.Order = order
	}
	t.mu.Unlock()

	if !known {
		return
	}

	switch order.Status {
	case broker.StatusFilled:
		if order.Side == broker.SideBuy {
			t.recorder.RecordLocalBuy(order.Symbol, p.Direction, toOrderRecord(order))
		} else if err := t.recorder.MarkSellFilled(order.Symbol, p.Direction, order.OrderID, order.ExecutedQuantity); err != nil {
			t.logger.Warn("trader.mark_sell_filled_failed", "order_id", order.OrderID, "err", err)
		}
	case broker.StatusPartialFilled:
		if order.Side == broker.SideBuy {
			t.recorder.RecordLocalBuy(order.Symbol, p.Direction, toOrderRecord(order))
		} else if err := t.recorder.MarkSellPartialFilled(order.Symbol, p.Direction, order.OrderID, order.ExecutedQuantity); err != nil {
			t.logger.Warn("trader.mark_sell_partial_failed", "order_id", order.OrderID, "err", err)
		}
	case broker.StatusCancelled, broker.StatusRejected:
		if order.Side == broker.SideSell {
			if err := t.recorder.MarkSellCancelled(order.Symbol, p.Direction, order.OrderID); err != nil {
				t.logger.Warn("trader.mark_sell_cancelled_failed", "order_id", order.OrderID, "err", err)
			}
		}
	}

	t.appendRawTradeRecord(TradeRecord{
		OrderID: order.OrderID, Symbol: order.Symbol, Side: string(order.Side),
		Quantity: order.ExecutedQuantity, Price: order.ExecutedPrice, Status: string(order.Status),
		ExecutedAt: order.UpdatedAt.Format(time.RFC3339), ExecutedAtMs: order.UpdatedAt.UnixMilli(),
		Timestamp: order.UpdatedAt.In(doomsday.HKT).Format(time.RFC3339),
	})
}

func toOrderRecord(order broker.Order) ledger.OrderRecord {
	return ledger.OrderRecord{
		OrderID: order.OrderID, Symbol: order.Symbol,
		ExecutedPrice: order.ExecutedPrice, ExecutedQuantity: order.ExecutedQuantity,
		ExecutedTime: order.UpdatedAt, SubmittedAt: order.SubmittedAt, UpdatedAt: order.UpdatedAt,
	}
}

// GetPendingOrders returns live orders for symbols, refreshing from the
// broker if the 15s TTL has elapsed or forceRefresh is set (spec §4.8).
func (t *Trader) GetPendingOrders(ctx context.Context, symbols []string, forceRefresh bool) ([]broker.Order, error) {
	t.mu.Lock()
	fresh := !forceRefresh && time.Since(t.cacheAt) < 15*time.Second && sameSymbols(t.cacheSymbols, symbols)
	cached := t.cachedOrders
	t.mu.Unlock()
	if fresh {
		return cached, nil
	}

	orders, err := t.gw.TodayOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("trader: fetch pending orders: %w", err)
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	var live []broker.Order
	for _, o := range orders {
		if _, ok := livePendingStatuses[o.Status]; !ok {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[o.Symbol]; !ok {
				continue
			}
		}
		live = append(live, o)
	}
	t.mu.Lock()
	t.cachedOrders = live
	t.cacheSymbols = symbols
	t.cacheAt = time.Now()
	t.mu.Unlock()
	return live, nil
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CanTradeNow reports whether a trade may go out now given the last attempt
// and the buy-interval cooldown, and how long to wait if not (spec §4.8
// "canTradeNow"). ApplyRiskChecks does not call it; its trade-frequency
// gate applies the same interval on its own.
func (t *Trader) CanTradeNow(lastAttempt time.Time, now time.Time, interval time.Duration) (canTrade bool, waitSeconds float64) {
	elapsed := now.Sub(lastAttempt)
	if elapsed >= interval {
		return true, 0
	}
	return false, (interval - elapsed).Seconds()
}

func (t *Trader) appendTradeRecord(sig *strategy.Signal, side, orderID, orderType, status, errMsg string) {
	t.appendRawTradeRecord(TradeRecord{
		OrderID: orderID, Symbol: sig.Symbol, SymbolName: sig.SymbolName,
		Action: string(sig.Action), Side: side, Quantity: sig.Quantity, Price: sig.Price,
		OrderType: orderType, Status: status, Error: errMsg, Reason: sig.Reason,
		SignalTriggerTime: sig.TriggerTime.Format(time.RFC3339),
		Timestamp:         time.Now().In(doomsday.HKT).Format(time.RFC3339),
		IsProtectiveClearance: sig.IsProtectiveLiquidation,
	})
}

// appendRawTradeRecord appends rec to trades/YYYY-MM-DD.json (spec §6
// "one file per HK date"), creating the file with a JSON array if absent.
func (t *Trader) appendRawTradeRecord(rec TradeRecord) {
	if t.logRoot == "" {
		return
	}
	dateKey := doomsday.HKDateKey(time.Now())
	dir := filepath.Join(t.logRoot, "trades")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.logger.Warn("trader.trade_log_mkdir_failed", "err", err)
		return
	}
	path := filepath.Join(dir, dateKey+".json")

	t.mu.Lock()
	defer t.mu.Unlock()

	var records []TradeRecord
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &records)
	}
	records = append(records, rec)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		t.logger.Warn("trader.trade_log_marshal_failed", "err", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.logger.Warn("trader.trade_log_write_failed", "err", err)
	}
}
