// Package risk implements the signal processor's buy-side risk gates and
// the sell-side smart-close quantity decision (spec §4.6). Grounded on the
// teacher's step.go tick loop — same "evaluate exits before entries,
// short-circuit on the first failing gate, log the reason" shape, adapted
// from a single-symbol profit-gate chain into the spec's eight-step
// ordered gate chain across many underlyings.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/ledger"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
)

// RejectReason names the gate that stopped a buy signal (spec §7 "Stale-
// version skip ... counted metric only" — every rejection is similarly
// classified for metrics).
type RejectReason string

const (
	RejectNone                  RejectReason = ""
	RejectVerificationCooldown  RejectReason = "verification_cooldown"
	RejectTradeFrequency        RejectReason = "trade_frequency"
	RejectLiquidationCooldown   RejectReason = "liquidation_cooldown"
	RejectBuyPriceGuard         RejectReason = "buy_price_guard"
	RejectDoomsday              RejectReason = "doomsday"
	RejectWarrantDistance       RejectReason = "warrant_distance"
	RejectBaseRisk              RejectReason = "base_risk"
)

// DoomsdayChecker reports whether new buys must be rejected right now
// (spec §4.9 "15 min before session-end"). Implemented by
// internal/doomsday.Clock.
type DoomsdayChecker interface {
	ShouldRejectBuy(now time.Time, isHalfDay bool) bool
}

// AccountPositions is the batched broker snapshot fetched once per risk
// pass and shared across remaining signals (spec §4.6 step 2).
type AccountPositions struct {
	Balance   broker.AccountBalance
	Positions map[string]broker.StockPosition // keyed by symbol
}

// cooldownKey identifies a (symbol, side) pair for the verification
// cooldown gate.
type cooldownKey struct {
	symbol string
	side   string // "BUY" or "SELL"
}

// liquidationKey identifies a (underlying, direction) pair.
type liquidationKey struct {
	underlying string
	direction  registry.Direction
}

// Gates holds the mutable per-underlying state the risk checks consult:
// last-buy-attempt timestamps, last verification-check timestamps, and
// liquidation cooldown records.
type Gates struct {
	mu sync.Mutex

	lastVerifyCheck map[cooldownKey]time.Time
	lastBuyAttempt  map[string]time.Time // keyed by underlying
	liquidations    map[liquidationKey]liquidationRecord

	doomsday DoomsdayChecker
}

type liquidationRecord struct {
	tradingDayKey string
	at            time.Time
}

// NewGates builds an empty Gates tracker.
func NewGates(doomsday DoomsdayChecker) *Gates {
	return &Gates{
		lastVerifyCheck: make(map[cooldownKey]time.Time),
		lastBuyAttempt:  make(map[string]time.Time),
		liquidations:    make(map[liquidationKey]liquidationRecord),
		doomsday:        doomsday,
	}
}

// RecordLiquidation notes a protective liquidation for the liquidation
// cooldown gate (step 4).
func (g *Gates) RecordLiquidation(underlying string, dir registry.Direction, tradingDayKey string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.liquidations[liquidationKey{underlying, dir}] = liquidationRecord{tradingDayKey: tradingDayKey, at: at}
}

// BuyContext bundles everything a risk pass needs for one underlying
// beyond the signal itself.
type BuyContext struct {
	Underlying      string
	Config          config.MonitorConfig
	Global          config.GlobalConfig
	Now             time.Time
	IsHalfDay       bool
	HKDateKey       string
	CallPrice       float64 // seat's recall barrier, for the distance guard
	IsBull          bool
	LastFilledBuyPrice float64
	HasLastFilledBuy   bool
	PositionQuantity   int
	PositionCostPrice  float64
}

// Decision is one signal's risk-check outcome.
type Decision struct {
	Signal *strategy.Signal
	Reject RejectReason
}

// ApplyRiskChecks runs the eight ordered gates of spec §4.6 against each
// buy signal, short-circuiting per-signal on the first failing gate. The
// batched broker fetch (step 2) happens at most once per call, only if a
// signal survives step 1.
func (g *Gates) ApplyRiskChecks(ctx context.Context, signals []*strategy.Signal, bctx BuyContext, fetchAccount func(ctx context.Context) (AccountPositions, error)) ([]Decision, error) {
	decisions := make([]Decision, 0, len(signals))
	survivors := make([]*strategy.Signal, 0, len(signals))

	// Step 1: verification cooldown, before any broker call.
	for _, sig := range signals {
		if !sig.Action.IsBuy() {
			survivors = append(survivors, sig)
			continue
		}
		key := cooldownKey{symbol: sig.Symbol, side: "BUY"}
		g.mu.Lock()
		last, seen := g.lastVerifyCheck[key]
		cooldown := time.Duration(bctx.Global.VerifiedSignalCooldownSeconds) * time.Second
		if seen && bctx.Now.Sub(last) < cooldown {
			g.mu.Unlock()
			decisions = append(decisions, Decision{Signal: sig, Reject: RejectVerificationCooldown})
			continue
		}
		g.lastVerifyCheck[key] = bctx.Now
		g.mu.Unlock()
		survivors = append(survivors, sig)
	}
	if len(survivors) == 0 {
		return decisions, nil
	}

	// Step 2: batched broker fetch, shared across remaining signals.
	account, err := fetchAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: fetch account snapshot: %w", err)
	}

	for _, sig := range survivors {
		reason := g.checkRemainingGates(sig, bctx, account)
		decisions = append(decisions, Decision{Signal: sig, Reject: reason})
		if reason == RejectNone {
			// Buy attempt is recorded before step 5 (buy-price guard)
			// succeeds conceptually, but since gates run in fixed order
			// here, record immediately on overall pass to reserve the
			// frequency slot for concurrent delayed verifies in this tick
			// (spec §4.6 closing sentence).
			g.mu.Lock()
			g.lastBuyAttempt[bctx.Underlying] = bctx.Now
			g.mu.Unlock()
		}
	}
	return decisions, nil
}

func (g *Gates) checkRemainingGates(sig *strategy.Signal, bctx BuyContext, account AccountPositions) RejectReason {
	// Step 3: trade frequency.
	g.mu.Lock()
	lastBuy, seen := g.lastBuyAttempt[bctx.Underlying]
	g.mu.Unlock()
	if seen && bctx.Now.Sub(lastBuy) < bctx.Config.BuyIntervalDuration() {
		return RejectTradeFrequency
	}

	// Step 4: liquidation cooldown.
	g.mu.Lock()
	rec, hasLiq := g.liquidations[liquidationKey{bctx.Underlying, sig.Action.Direction()}]
	g.mu.Unlock()
	if hasLiq {
		switch bctx.Config.LiquidationCooldown.Mode {
		case config.CooldownModeMinutes:
			elapsed := bctx.Now.Sub(rec.at)
			if elapsed < time.Duration(bctx.Config.LiquidationCooldown.Minutes)*time.Minute {
				return RejectLiquidationCooldown
			}
		case config.CooldownModeMidnightEligible:
			if rec.tradingDayKey == bctx.HKDateKey {
				return RejectLiquidationCooldown
			}
		}
	}

	// Step 5: buy-price guard (averaging-down only).
	if bctx.HasLastFilledBuy && sig.HasPrice && sig.Price > bctx.LastFilledBuyPrice {
		return RejectBuyPriceGuard
	}

	// Step 6: doomsday reject.
	if g.doomsday != nil && g.doomsday.ShouldRejectBuy(bctx.Now, bctx.IsHalfDay) {
		return RejectDoomsday
	}

	// Step 7: warrant-distance guard. Keyed off the underlying/monitor
	// price, not the warrant's own traded price — the recall barrier is
	// quoted against the underlying (spec §4.6 step 7).
	if sig.HasMonitorPrice && bctx.CallPrice > 0 {
		distance := (sig.MonitorPrice - bctx.CallPrice) / sig.MonitorPrice * 100
		if bctx.IsBull && distance < bctx.Global.BullWarrantMinDistancePercent {
			return RejectWarrantDistance
		}
		if !bctx.IsBull && distance > bctx.Global.BearWarrantMaxDistancePercent {
			return RejectWarrantDistance
		}
	}

	// Step 8: base risk / notional check.
	orderNotional := sig.Price * float64(sig.Quantity)
	existingValue := float64(bctx.PositionQuantity) * bctx.PositionCostPrice
	if bctx.PositionCostPrice == 0 {
		existingValue = float64(bctx.PositionQuantity) * sig.Price
	}
	if orderNotional+existingValue > bctx.Config.MaxPositionNotional {
		return RejectBaseRisk
	}

	return RejectNone
}

// ProcessSellSignals computes sellable quantity for each sell signal via
// the ledger's smart-close selector (spec §4.6). Signals with no sellable
// quantity are mutated to HOLD in place and must still be released by the
// caller.
//
// A protective liquidation (doomsday auto-liquidate or clearance) never
// goes through smart-close gating: it must clear the full position
// unconditionally, even when the seat is underwater and smart-close would
// otherwise restrict or hold the sell (spec §4.9's clearance guarantee
// would otherwise be defeated by an ordinary profit-only sell decision).
func ProcessSellSignals(signals []*strategy.Signal, rec *ledger.Recorder, currentPriceFor func(symbol string) (float64, bool), smartCloseEnabled bool) {
	for _, sig := range signals {
		if sig.Action.IsBuy() || sig.Action == strategy.ActionHold {
			continue
		}
		price, ok := currentPriceFor(sig.Symbol)
		if !ok {
			sig.Action = strategy.ActionHold
			continue
		}
		sig.Price = price
		sig.HasPrice = true

		var res ledger.SellableResult
		switch {
		case sig.IsProtectiveLiquidation:
			res = rec.GetSellableOrders(sig.Symbol, sig.Action.Direction(), 0, nil)
		case smartCloseEnabled:
			res = rec.SmartCloseSelect(sig.Symbol, sig.Action.Direction(), price, sig.Quantity)
		default:
			res = rec.GetSellableOrders(sig.Symbol, sig.Action.Direction(), sig.Quantity, nil)
		}

		if res.TotalQuantity == 0 {
			sig.Action = strategy.ActionHold
			continue
		}
		sig.Quantity = res.TotalQuantity
		sig.RelatedBuyOrderIDs = append(sig.RelatedBuyOrderIDs[:0], res.RelatedBuyOrderIDs...)
	}
}
