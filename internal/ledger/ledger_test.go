package ledger

import (
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/registry"
)

func seedLedger(r *Recorder, symbol string) {
	now := time.Now()
	r.RecordLocalBuy(symbol, registry.Long, OrderRecord{
		OrderID: "buy1", Symbol: symbol, ExecutedPrice: 1.00, ExecutedQuantity: 100,
		ExecutedTime: now.Add(-2 * time.Minute),
	})
	r.RecordLocalBuy(symbol, registry.Long, OrderRecord{
		OrderID: "buy2", Symbol: symbol, ExecutedPrice: 1.20, ExecutedQuantity: 100,
		ExecutedTime: now.Add(-1 * time.Minute),
	})
}

// Scenario 1 (spec §8): integral-profit sell returns the whole position.
func TestSmartCloseSelectIntegralProfit(t *testing.T) {
	r := New()
	seedLedger(r, "12345")

	costAvg, ok := r.GetCostAveragePrice("12345", registry.Long)
	if !ok || costAvg != 1.10 {
		t.Fatalf("expected cost avg 1.10, got %v (ok=%v)", costAvg, ok)
	}

	res := r.SmartCloseSelect("12345", registry.Long, 1.15, 0)
	if res.TotalQuantity != 200 || len(res.Orders) != 2 {
		t.Fatalf("expected all 200 shares across 2 orders, got qty=%d orders=%d", res.TotalQuantity, len(res.Orders))
	}
}

// Scenario 2 (spec §8): partial-profit sell returns only the cheaper order.
func TestSmartCloseSelectPartialProfit(t *testing.T) {
	r := New()
	seedLedger(r, "12345")

	res := r.SmartCloseSelect("12345", registry.Long, 1.05, 0)
	if res.TotalQuantity != 100 || len(res.Orders) != 1 {
		t.Fatalf("expected 1 order / 100 shares, got qty=%d orders=%d", res.TotalQuantity, len(res.Orders))
	}
	if res.Orders[0].ExecutedPrice != 1.00 {
		t.Fatalf("expected the 1.00 lot, got %v", res.Orders[0].ExecutedPrice)
	}
}

// Scenario 3 (spec §8): cost average after a partial sell recomputes over
// the remaining full ledger and can now exceed the trigger price, halting
// further smart-close at the caller level (HOLD is a strategy-level
// decision this package doesn't make, but the ledger must report the
// post-sell cost average correctly).
func TestCostAverageAfterPartialSell(t *testing.T) {
	r := New()
	seedLedger(r, "12345")

	if err := r.MarkSellFilled("12345", registry.Long, "sell1", 0); err == nil {
		t.Fatal("expected error for unknown pending sell")
	}

	r.SubmitSellOrder("12345", registry.Long, "sell1", 100, []string{"buy1"}, "LO")
	if err := r.MarkSellFilled("12345", registry.Long, "sell1", 100); err != nil {
		t.Fatalf("mark filled: %v", err)
	}

	costAvg, ok := r.GetCostAveragePrice("12345", registry.Long)
	if !ok || costAvg != 1.20 {
		t.Fatalf("expected remaining cost avg 1.20, got %v (ok=%v)", costAvg, ok)
	}

	res := r.SmartCloseSelect("12345", registry.Long, 1.15, 0)
	if res.TotalQuantity != 0 {
		t.Fatalf("expected no sellable quantity when cost avg (1.20) > price (1.15), got %d", res.TotalQuantity)
	}
}

func TestPendingSellReservationExcludesFromSellable(t *testing.T) {
	r := New()
	seedLedger(r, "12345")
	r.SubmitSellOrder("12345", registry.Long, "sell1", 100, []string{"buy1"}, "LO")

	res := r.GetSellableOrders("12345", registry.Long, 0, nil)
	if res.TotalQuantity != 100 {
		t.Fatalf("expected only the unreserved 100 shares (buy2), got %d", res.TotalQuantity)
	}
	if len(res.Orders) != 1 || res.Orders[0].OrderID != "buy2" {
		t.Fatalf("expected buy2 only, got %+v", res.Orders)
	}
}

func TestMarkSellPartialFilledReleasesOnlyFilledPortion(t *testing.T) {
	r := New()
	seedLedger(r, "12345")
	r.SubmitSellOrder("12345", registry.Long, "sell1", 100, []string{"buy1"}, "LO")

	if err := r.MarkSellPartialFilled("12345", registry.Long, "sell1", 40); err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	ledgerSnap := r.BuyLedgerSnapshot("12345", registry.Long)
	var buy1Qty int
	for _, o := range ledgerSnap {
		if o.OrderID == "buy1" {
			buy1Qty = o.ExecutedQuantity
		}
	}
	if buy1Qty != 60 {
		t.Fatalf("expected buy1 reduced to 60 after 40 consumed, got %d", buy1Qty)
	}

	if err := r.MarkSellCancelled("12345", registry.Long, "sell1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pending := r.PendingSellSnapshot("12345", registry.Long)
	if len(pending) != 0 {
		t.Fatalf("expected no live pending sells after cancel, got %d", len(pending))
	}
}

func TestMaxQtyWholeOrderTruncation(t *testing.T) {
	r := New()
	seedLedger(r, "12345")
	res := r.GetSellableOrders("12345", registry.Long, 150, nil)
	if res.TotalQuantity != 100 {
		t.Fatalf("expected whole-order truncation to stop at 100 (not split to 150), got %d", res.TotalQuantity)
	}
}

func TestShortDirectionSortsHighestFirst(t *testing.T) {
	r := New()
	now := time.Now()
	r.RecordLocalBuy("98765", registry.Short, OrderRecord{OrderID: "a", ExecutedPrice: 0.8, ExecutedQuantity: 50, ExecutedTime: now})
	r.RecordLocalBuy("98765", registry.Short, OrderRecord{OrderID: "b", ExecutedPrice: 1.1, ExecutedQuantity: 50, ExecutedTime: now})

	res := r.GetSellableOrders("98765", registry.Short, 0, nil)
	if res.Orders[0].OrderID != "b" {
		t.Fatalf("expected highest-price order first for SHORT, got %s", res.Orders[0].OrderID)
	}
}

func TestResetAllClearsState(t *testing.T) {
	r := New()
	seedLedger(r, "12345")
	r.ResetAll()
	if _, ok := r.GetCostAveragePrice("12345", registry.Long); ok {
		t.Fatal("expected empty ledger after ResetAll")
	}
}

func TestAllocateRelatedBuyOrderIdsForRecovery(t *testing.T) {
	r := New()
	seedLedger(r, "12345")
	ids := r.AllocateRelatedBuyOrderIDsForRecovery("12345", registry.Long, 100)
	if len(ids) != 1 || ids[0] != "buy1" {
		t.Fatalf("expected greedy match to buy1 (cheapest), got %v", ids)
	}
}
