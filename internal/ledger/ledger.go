// Package ledger is the order recorder (spec §4.7): the central per-
// (symbol, direction) ledger of filled buy/sell orders, the pending-sell
// reservation system that prevents concurrent sells from double-selling
// the same lot, and the smart-close sellable-order selector. Grounded on
// gurre-prime-fix-md-go's fixclient/orderstore.go (mutex-guarded map keyed
// by order id, Add/Get/lifecycle methods) — that repo ships no go.mod so
// it cannot be the teacher, but its order-tracking shape is the closest
// match in the pack and is reused here in the teacher's plainer style.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
)

// OrderRecord is a filled buy or sell (spec §3 "OrderRecord").
type OrderRecord struct {
	OrderID          string
	Symbol           string
	ExecutedPrice    float64
	ExecutedQuantity int
	ExecutedTime     time.Time
	SubmittedAt      time.Time
	UpdatedAt        time.Time
}

// PendingSellStatus is the lifecycle state of a reserved sell.
type PendingSellStatus string

const (
	PendingSellLive          PendingSellStatus = "live"
	PendingSellFilled        PendingSellStatus = "filled"
	PendingSellPartialFilled PendingSellStatus = "partial_filled"
	PendingSellCancelled     PendingSellStatus = "cancelled"
)

// PendingSellOrder reserves specific buy orders against a live sell (spec
// §3 "PendingSellOrder").
type PendingSellOrder struct {
	OrderID            string
	Symbol             string
	Direction          registry.Direction
	SubmittedQuantity  int
	ExecutedQuantity   int
	RelatedBuyOrderIDs []string
	SubmittedAt        time.Time
	Status             PendingSellStatus
	OrderType          string
}

type ledgerKey struct {
	symbol    string
	direction registry.Direction
}

// SellableResult is getSellableOrders' return shape (spec §4.7).
type SellableResult struct {
	Orders             []OrderRecord
	TotalQuantity       int
	RelatedBuyOrderIDs  []string
}

// book is the per-(symbol,direction) state: filled buy ledger, filled
// sells (kept for cost-average history is not required, only buys
// matter for cost average per spec §4.7), and live pending sells.
type book struct {
	buys         []OrderRecord // current unsold buy ledger, sorted by executedTime ascending
	pendingSells map[string]*PendingSellOrder
}

func newBook() *book {
	return &book{pendingSells: make(map[string]*PendingSellOrder)}
}

// Recorder is the Order Recorder (spec §4.7).
type Recorder struct {
	mu    sync.Mutex
	books map[ledgerKey]*book
}

// New builds an empty Recorder.
func New() *Recorder {
	return &Recorder{books: make(map[ledgerKey]*book)}
}

func (r *Recorder) bookFor(symbol string, dir registry.Direction) *book {
	key := ledgerKey{symbol, dir}
	b, ok := r.books[key]
	if !ok {
		b = newBook()
		r.books[key] = b
	}
	return b
}

// RecordLocalBuy appends a freshly filled buy to the ledger.
func (r *Recorder) RecordLocalBuy(symbol string, dir registry.Direction, rec OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	b.buys = append(b.buys, rec)
	sort.Slice(b.buys, func(i, j int) bool { return b.buys[i].ExecutedTime.Before(b.buys[j].ExecutedTime) })
}

// RecordLocalSell removes a sold quantity from the front of the ledger at
// fill time — invoked after markSellFilled resolves which buys it consumed.
// Reduction by order id lets a partial fill keep the remainder on the book.
func (r *Recorder) RecordLocalSell(symbol string, dir registry.Direction, consumedOrderIDs []string, consumedQty map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	consumed := make(map[string]struct{}, len(consumedOrderIDs))
	for _, id := range consumedOrderIDs {
		consumed[id] = struct{}{}
	}
	kept := b.buys[:0]
	for _, o := range b.buys {
		if _, match := consumed[o.OrderID]; !match {
			kept = append(kept, o)
			continue
		}
		remaining := o.ExecutedQuantity - consumedQty[o.OrderID]
		if remaining > 0 {
			o.ExecutedQuantity = remaining
			kept = append(kept, o)
		}
	}
	b.buys = kept
}

// GetCostAveragePrice is sum(price*qty)/sum(qty) over the full buy ledger
// (spec §4.7, invariant (c) in §8 — independent of pending reservations).
func (r *Recorder) GetCostAveragePrice(symbol string, dir registry.Direction) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	var sumPQ float64
	var sumQ int
	for _, o := range b.buys {
		sumPQ += o.ExecutedPrice * float64(o.ExecutedQuantity)
		sumQ += o.ExecutedQuantity
	}
	if sumQ == 0 {
		return 0, false
	}
	return sumPQ / float64(sumQ), true
}

// reservedQuantity returns the order-id -> reserved-quantity map across all
// live (or partially filled) pending sells for the book.
func reservedQuantity(b *book) map[string]int {
	reserved := make(map[string]int)
	for _, p := range b.pendingSells {
		if p.Status != PendingSellLive && p.Status != PendingSellPartialFilled {
			continue
		}
		remaining := p.SubmittedQuantity - p.ExecutedQuantity
		if remaining <= 0 {
			continue
		}
		// Divide the remaining reservation proportionally across the
		// related buys it still holds; in practice sells are built from
		// whole orders so this degenerates to "reserve the whole order".
		per := remaining / maxInt(len(p.RelatedBuyOrderIDs), 1)
		for _, id := range p.RelatedBuyOrderIDs {
			reserved[id] += per
		}
	}
	return reserved
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// GetSellableOrders returns unreserved buy orders sorted cheapest-first
// (LONG) or highest-first (SHORT), per spec §4.7. maxQty truncates by
// whole orders; excludeOrderIDs removes specific orders from consideration
// (used by recovery/allocate paths).
func (r *Recorder) GetSellableOrders(symbol string, dir registry.Direction, maxQty int, excludeOrderIDs map[string]struct{}) SellableResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	reserved := reservedQuantity(b)

	candidates := make([]OrderRecord, 0, len(b.buys))
	for _, o := range b.buys {
		if excludeOrderIDs != nil {
			if _, excluded := excludeOrderIDs[o.OrderID]; excluded {
				continue
			}
		}
		if reserved[o.OrderID] >= o.ExecutedQuantity {
			continue
		}
		candidates = append(candidates, o)
	}

	ascending := dir == registry.Long
	sort.Slice(candidates, func(i, j int) bool {
		if ascending {
			return candidates[i].ExecutedPrice < candidates[j].ExecutedPrice
		}
		return candidates[i].ExecutedPrice > candidates[j].ExecutedPrice
	})

	var out SellableResult
	for _, o := range candidates {
		if maxQty > 0 && out.TotalQuantity+o.ExecutedQuantity > maxQty {
			break // whole-order truncation: never split an order to fit maxQty
		}
		out.Orders = append(out.Orders, o)
		out.TotalQuantity += o.ExecutedQuantity
		out.RelatedBuyOrderIDs = append(out.RelatedBuyOrderIDs, o.OrderID)
		if maxQty > 0 && out.TotalQuantity == maxQty {
			break
		}
	}
	return out
}

// SellableOrdersAboveCost restricts GetSellableOrders' view to orders
// whose executed price is strictly below currentPrice — the "profit only"
// branch of smart-close (spec §4.6).
func (r *Recorder) SellableOrdersAboveCost(symbol string, dir registry.Direction, currentPrice float64, maxQty int, excludeOrderIDs map[string]struct{}) SellableResult {
	full := r.GetSellableOrders(symbol, dir, 0, excludeOrderIDs)
	var out SellableResult
	for _, o := range full.Orders {
		if o.ExecutedPrice >= currentPrice {
			continue
		}
		if maxQty > 0 && out.TotalQuantity+o.ExecutedQuantity > maxQty {
			break
		}
		out.Orders = append(out.Orders, o)
		out.TotalQuantity += o.ExecutedQuantity
		out.RelatedBuyOrderIDs = append(out.RelatedBuyOrderIDs, o.OrderID)
	}
	return out
}

// SmartCloseSelect implements spec §4.6's integral-profit check: if the
// ledger's cost average is below currentPrice, sell the entire position;
// otherwise restrict to orders individually bought below currentPrice.
func (r *Recorder) SmartCloseSelect(symbol string, dir registry.Direction, currentPrice float64, maxQty int) SellableResult {
	costAvg, ok := r.GetCostAveragePrice(symbol, dir)
	if !ok {
		return SellableResult{}
	}
	if costAvg < currentPrice {
		return r.GetSellableOrders(symbol, dir, maxQty, nil)
	}
	return r.SellableOrdersAboveCost(symbol, dir, currentPrice, maxQty, nil)
}

// SubmitSellOrder registers a new pending sell, reserving relatedBuyOrderIDs
// against double-sale (spec §4.7 pending-sell lifecycle).
func (r *Recorder) SubmitSellOrder(symbol string, dir registry.Direction, orderID string, qty int, relatedBuyOrderIDs []string, orderType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	b.pendingSells[orderID] = &PendingSellOrder{
		OrderID:            orderID,
		Symbol:             symbol,
		Direction:          dir,
		SubmittedQuantity:  qty,
		RelatedBuyOrderIDs: relatedBuyOrderIDs,
		SubmittedAt:        time.Now(),
		Status:             PendingSellLive,
		OrderType:          orderType,
	}
}

// MarkSellFilled finalizes a pending sell as fully executed and removes
// the consumed buys from the ledger.
func (r *Recorder) MarkSellFilled(symbol string, dir registry.Direction, orderID string, executedQty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	p, ok := b.pendingSells[orderID]
	if !ok {
		return fmt.Errorf("ledger: unknown pending sell %s", orderID)
	}
	p.Status = PendingSellFilled
	p.ExecutedQuantity = executedQty
	delete(b.pendingSells, orderID)
	r.consumeBuysLocked(b, p.RelatedBuyOrderIDs, executedQty)
	return nil
}

// MarkSellPartialFilled records a partial fill: the newly filled quantity
// is consumed from the related buys, and the unfilled remainder
// (submittedQty - filledQty) stays reserved until the sell fills or is
// cancelled.
func (r *Recorder) MarkSellPartialFilled(symbol string, dir registry.Direction, orderID string, filledQty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	p, ok := b.pendingSells[orderID]
	if !ok {
		return fmt.Errorf("ledger: unknown pending sell %s", orderID)
	}
	delta := filledQty - p.ExecutedQuantity
	if delta <= 0 {
		return nil
	}
	p.ExecutedQuantity = filledQty
	p.Status = PendingSellPartialFilled
	r.consumeBuysLocked(b, p.RelatedBuyOrderIDs, delta)
	return nil
}

// MarkSellCancelled releases the full reservation without consuming any
// ledger quantity. A second call for an order already resolved (by an
// earlier push or an earlier caller on the same cancellation) is a no-op
// rather than an error, since cancellation can be observed from more than
// one path — an explicit caller and an asynchronous order-changed push —
// racing to report the same outcome.
func (r *Recorder) MarkSellCancelled(symbol string, dir registry.Direction, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	p, ok := b.pendingSells[orderID]
	if !ok {
		return nil
	}
	p.Status = PendingSellCancelled
	delete(b.pendingSells, orderID)
	return nil
}

// consumeBuysLocked removes qty worth of executed quantity from the
// oldest-first related buys, deleting orders that hit zero. Must be
// called with r.mu held.
func (r *Recorder) consumeBuysLocked(b *book, relatedBuyOrderIDs []string, qty int) {
	related := make(map[string]struct{}, len(relatedBuyOrderIDs))
	for _, id := range relatedBuyOrderIDs {
		related[id] = struct{}{}
	}
	remaining := qty
	kept := b.buys[:0]
	for _, o := range b.buys {
		if _, match := related[o.OrderID]; !match || remaining <= 0 {
			kept = append(kept, o)
			continue
		}
		take := o.ExecutedQuantity
		if take > remaining {
			take = remaining
		}
		remaining -= take
		o.ExecutedQuantity -= take
		if o.ExecutedQuantity > 0 {
			kept = append(kept, o)
		}
	}
	b.buys = kept
}

// AllocateRelatedBuyOrderIDsForRecovery greedy-matches qty against the
// current unreserved buy ledger — used at startup when a pending sell is
// pulled back from the broker with no local reservation record (spec
// §4.7).
func (r *Recorder) AllocateRelatedBuyOrderIDsForRecovery(symbol string, dir registry.Direction, qty int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	return allocateRelatedBuyOrderIDsLocked(b, dir, qty)
}

// allocateRelatedBuyOrderIDsLocked is the greedy-match core shared by
// AllocateRelatedBuyOrderIDsForRecovery and RefreshOrdersFromAllOrders;
// callers must already hold r.mu.
func allocateRelatedBuyOrderIDsLocked(b *book, dir registry.Direction, qty int) []string {
	reserved := reservedQuantity(b)

	ascending := dir == registry.Long
	sorted := append([]OrderRecord(nil), b.buys...)
	sort.Slice(sorted, func(i, j int) bool {
		if ascending {
			return sorted[i].ExecutedPrice < sorted[j].ExecutedPrice
		}
		return sorted[i].ExecutedPrice > sorted[j].ExecutedPrice
	})

	var ids []string
	remaining := qty
	for _, o := range sorted {
		if remaining <= 0 {
			break
		}
		avail := o.ExecutedQuantity - reserved[o.OrderID]
		if avail <= 0 {
			continue
		}
		ids = append(ids, o.OrderID)
		remaining -= avail
	}
	return ids
}

// RefreshOrdersFromAllOrders fully rebuilds symbol/dir's book from a
// broker-fetched order list (spec §4.7): it classifies buys vs sells and
// filled/partial vs pending, then applies the filtering algorithm — keep
// M0 (all buys still open after the latest completed sell), and drop or
// trim the oldest of those M0 buys by whatever quantity was sold exactly
// at that boundary sell, so a buy already accounted for by a concurrent
// fill at startup isn't double-counted. Live sells are rehydrated as
// pending reservations via the same greedy allocator used for ordinary
// recovery. Callers are expected to have called ResetAll first when
// rebuilding the whole ledger (spec §8 "resetAll followed by
// refreshOrdersFromAllOrders yields state identical to fresh startup").
func (r *Recorder) RefreshOrdersFromAllOrders(symbol string, dir registry.Direction, rawOrders []broker.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := newBook()
	r.books[ledgerKey{symbol, dir}] = b

	var buys, sells []broker.Order
	for _, o := range rawOrders {
		if o.Symbol != symbol {
			continue
		}
		switch o.Side {
		case broker.SideBuy:
			buys = append(buys, o)
		case broker.SideSell:
			sells = append(sells, o)
		}
	}

	var latestSellTime time.Time
	for _, o := range sells {
		if o.ExecutedQuantity <= 0 {
			continue
		}
		if o.UpdatedAt.After(latestSellTime) {
			latestSellTime = o.UpdatedAt
		}
	}

	var m0 []broker.Order
	for _, o := range buys {
		if o.Status != broker.StatusFilled && o.Status != broker.StatusPartialFilled {
			continue
		}
		if o.ExecutedQuantity <= 0 {
			continue
		}
		if !latestSellTime.IsZero() && !o.UpdatedAt.After(latestSellTime) {
			continue // consumed by an earlier sell, not part of M0
		}
		m0 = append(m0, o)
	}
	sort.Slice(m0, func(i, j int) bool { return m0[i].UpdatedAt.Before(m0[j].UpdatedAt) })

	// Quantity sold exactly at the M0 boundary still needs to be walked
	// off the oldest M0 buys first (FIFO), since the sell that defines the
	// boundary may itself have partially consumed the earliest of them.
	var boundarySoldQty int
	for _, o := range sells {
		if o.ExecutedQuantity <= 0 {
			continue
		}
		if o.UpdatedAt.Equal(latestSellTime) {
			boundarySoldQty += o.ExecutedQuantity
		}
	}
	remaining := boundarySoldQty
	for _, o := range m0 {
		rec := OrderRecord{
			OrderID:          o.OrderID,
			Symbol:           o.Symbol,
			ExecutedPrice:    o.ExecutedPrice,
			ExecutedQuantity: o.ExecutedQuantity,
			ExecutedTime:     o.UpdatedAt,
			SubmittedAt:      o.SubmittedAt,
			UpdatedAt:        o.UpdatedAt,
		}
		if remaining > 0 {
			if rec.ExecutedQuantity <= remaining {
				remaining -= rec.ExecutedQuantity
				continue
			}
			rec.ExecutedQuantity -= remaining
			remaining = 0
		}
		b.buys = append(b.buys, rec)
	}

	for _, o := range sells {
		if !o.Status.IsLive() {
			continue
		}
		openQty := o.SubmittedQuantity - o.ExecutedQuantity
		related := allocateRelatedBuyOrderIDsLocked(b, dir, openQty)
		b.pendingSells[o.OrderID] = &PendingSellOrder{
			OrderID:            o.OrderID,
			Symbol:             symbol,
			Direction:          dir,
			SubmittedQuantity:  o.SubmittedQuantity,
			ExecutedQuantity:   o.ExecutedQuantity,
			RelatedBuyOrderIDs: related,
			SubmittedAt:        o.SubmittedAt,
			Status:             PendingSellLive,
			OrderType:          string(o.OrderType),
		}
	}
}

// TimeoutOnlySelect selects buy orders whose age — measured only across
// continuous HK trading-session time, via sessionMinutesFn — exceeds
// timeoutMinutes (spec §4.7 "TIMEOUT_ONLY selector").
// sessionMinutesFn(from, to) must return the number of minutes the HK
// market was open between from and to.
func (r *Recorder) TimeoutOnlySelect(symbol string, dir registry.Direction, timeoutMinutes int, now time.Time, sessionMinutesFn func(from, to time.Time) float64) []OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	var out []OrderRecord
	for _, o := range b.buys {
		if sessionMinutesFn(o.ExecutedTime, now) >= float64(timeoutMinutes) {
			out = append(out, o)
		}
	}
	return out
}

// ResetAll clears every book — used on cross-day reset and pre-rehydration
// startup (spec §4.7 "resetAll").
func (r *Recorder) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = make(map[ledgerKey]*book)
}

// BuyLedgerSnapshot returns a copy of the current buy ledger for symbol —
// used by property tests and recovery diagnostics.
func (r *Recorder) BuyLedgerSnapshot(symbol string, dir registry.Direction) []OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	out := make([]OrderRecord, len(b.buys))
	copy(out, b.buys)
	return out
}

// PendingSellSnapshot returns a copy of the live pending-sell set for
// symbol — used by the Trader's sell-merge decision (spec §4.8).
func (r *Recorder) PendingSellSnapshot(symbol string, dir registry.Direction) []PendingSellOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bookFor(symbol, dir)
	out := make([]PendingSellOrder, 0, len(b.pendingSells))
	for _, p := range b.pendingSells {
		out = append(out, *p)
	}
	return out
}
