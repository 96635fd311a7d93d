package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/autosymbol"
	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/doomsday"
	"github.com/chidi150c/hkwarrant-engine/internal/indicator"
	"github.com/chidi150c/hkwarrant-engine/internal/ledger"
	"github.com/chidi150c/hkwarrant-engine/internal/logging"
	"github.com/chidi150c/hkwarrant-engine/internal/metrics"
	"github.com/chidi150c/hkwarrant-engine/internal/quote"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/internal/risk"
	"github.com/chidi150c/hkwarrant-engine/internal/scheduler"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
	"github.com/chidi150c/hkwarrant-engine/internal/trader"
	"github.com/chidi150c/hkwarrant-engine/internal/verify"
)

// candlePeriod and candleLookback size the on-demand candle pull every
// monitor tick uses to refresh its indicator snapshot.
const (
	candlePeriod   = "1m"
	candleLookback = 120
)

// monitorState is the per-underlying runtime bundle: its parsed DSL
// configs and its autosymbol manager (spec §3 "Underlying (Monitor)").
type monitorState struct {
	cfg     config.MonitorConfig
	strat   *strategy.Strategy
	autosym *autosymbol.Manager
}

// Engine wires every subsystem package into one running instance (spec §6
// "component wiring"), grounded on the teacher's Trader struct in
// trader.go which held the same kind of cross-cutting references
// (broker, model, config) that every tick touches.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	gw       broker.Gateway
	reg      *registry.Registry
	quotes   *quote.Client
	cache    *indicator.Cache
	ledger   *ledger.Recorder
	risk     *risk.Gates
	trader   *trader.Trader
	verifier *verify.Verifier
	clock    doomsday.Clock

	monitors map[string]*monitorState // keyed by monitor_symbol

	// Separate buy/sell queues (spec §5 "sells take priority over buys,
	// independent queues, sell worker not blocked by risk checks") — a
	// single shared queue would let a slow buy's blocking broker round-trip
	// head-of-line-block a queued sell behind it.
	buyQueue  *scheduler.SignalQueue
	buyWork   *scheduler.Worker
	sellQueue *scheduler.SignalQueue
	sellWork  *scheduler.Worker

	doomsdayMu               sync.Mutex
	cancelledPendingBuysDate string
	lastClearanceAt          time.Time
}

// NewEngine builds every subsystem and wires their dependencies, but does
// not yet subscribe to quotes or start goroutines — call Start for that.
func NewEngine(cfg config.Config, logger *slog.Logger, gw broker.Gateway) (*Engine, error) {
	reg := registry.New()

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		gw:     gw,
		reg:    reg,
		quotes: quote.NewClient(gw, logging.Component(logger, "quote")),
		cache:  indicator.NewCache(),
		ledger: ledger.New(),
		clock: doomsday.Clock{OpenProtection: doomsday.OpenProtectionWindows{
			MorningMinutes:   cfg.Global.OpenProtection.Morning,
			AfternoonMinutes: cfg.Global.OpenProtection.Afternoon,
		}},
		monitors: make(map[string]*monitorState),
	}
	e.risk = risk.NewGates(e.clock)
	e.trader = trader.New(gw, e.ledger, logging.Component(logger, "trader"), cfg.Global.LogRoot)
	e.verifier = verify.New(e.cache, e, logging.Component(logger, "verify"))
	e.buyQueue = scheduler.NewSignalQueue()
	e.buyWork = scheduler.NewWorker(e.buyQueue, e.handleSignal, logging.Component(logger, "risk_buy"))
	e.sellQueue = scheduler.NewSignalQueue()
	e.sellWork = scheduler.NewWorker(e.sellQueue, e.handleSignal, logging.Component(logger, "risk_sell"))

	for _, m := range cfg.Monitors {
		configs, err := strategy.ParseConfigs(m.SignalConfig)
		if err != nil {
			return nil, fmt.Errorf("engine: monitor %s: %w", m.MonitorSymbol, err)
		}
		ms := &monitorState{
			cfg:     m,
			strat:   &strategy.Strategy{Underlying: m.MonitorSymbol, Configs: configs, Verify: m.Verification},
			autosym: autosymbol.NewManager(reg),
		}
		e.seedSeats(m)
		e.monitors[m.MonitorSymbol] = ms
	}
	return e, nil
}

// seedSeats occupies a seat immediately for statically-configured symbols
// (auto_search.enabled=false); auto-searched seats start EMPTY and are
// filled by the first tick's MaybeSearchOnTick.
func (e *Engine) seedSeats(m config.MonitorConfig) {
	if !m.AutoSearch.Enabled && m.LongSymbol != "" {
		e.reg.UpdateSeatState(m.MonitorSymbol, registry.Long, registry.SeatState{
			Status: registry.StatusReady, Symbol: m.LongSymbol,
		})
	}
	if !m.AutoSearch.Enabled && m.ShortSymbol != "" {
		e.reg.UpdateSeatState(m.MonitorSymbol, registry.Short, registry.SeatState{
			Status: registry.StatusReady, Symbol: m.ShortSymbol,
		})
	}
}

// trackedSymbols returns every symbol the quote client must subscribe to:
// each monitor's underlying plus its statically-configured warrant legs
// (auto-searched legs are subscribed lazily once found).
func (e *Engine) trackedSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, m := range e.cfg.Monitors {
		add(m.MonitorSymbol)
		add(m.LongSymbol)
		add(m.ShortSymbol)
	}
	return out
}

// Start subscribes to every tracked symbol, starts the verifier sweep and
// the buy and sell order-processing workers, and launches one tick loop per
// monitor.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.quotes.Init(ctx, e.trackedSymbols()); err != nil {
		return fmt.Errorf("engine: quote init: %w", err)
	}
	if err := e.rehydrateLedger(ctx); err != nil {
		e.logger.Warn("engine: ledger rehydrate failed", "error", err)
	}
	e.verifier.Start(ctx)
	e.buyWork.Start(ctx)
	e.sellWork.Start(ctx)

	interval := time.Duration(e.cfg.Global.TickIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	for _, ms := range e.monitors {
		ms := ms
		go e.runMonitorTicker(ctx, ms, interval)
	}
	go e.runTimeoutSweep(ctx)
	return nil
}

// rehydrateLedger rebuilds every seeded seat's order ledger from the
// broker's today-orders feed before any tick runs (spec §4.7
// "refreshOrdersFromAllOrders"; spec §8 "resetAll followed by
// refreshOrdersFromAllOrders yields state identical to fresh startup").
// Auto-searched seats that haven't occupied a symbol yet are skipped; they
// start with an empty book exactly as a fresh Recorder would.
func (e *Engine) rehydrateLedger(ctx context.Context) error {
	orders, err := e.gw.TodayOrders(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate ledger: fetch today orders: %w", err)
	}
	e.ledger.ResetAll()
	for _, m := range e.cfg.Monitors {
		for _, dir := range []registry.Direction{registry.Long, registry.Short} {
			seat := e.reg.GetSeatState(m.MonitorSymbol, dir)
			if seat.Symbol == "" {
				continue
			}
			e.ledger.RefreshOrdersFromAllOrders(seat.Symbol, dir, orders)
		}
	}
	return nil
}

// runMonitorTicker drives one monitor's tick cadence (spec §4.2 "one tick
// per underlying per interval"), matching the teacher's runLive ticker
// loop but scoped to a single underlying instead of the whole process.
func (e *Engine) runMonitorTicker(ctx context.Context, ms *monitorState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tickMonitor(ctx, ms, now.UTC())
		}
	}
}

// runTimeoutSweep cancels orders that have passed their per-order deadline
// (spec §4.8 "per-order timeout"), independent of any single monitor.
func (e *Engine) runTimeoutSweep(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.trader.CheckTimeouts(ctx, now.UTC())
		}
	}
}

// tickMonitor runs the full per-underlying pipeline for one tick: doomsday
// liquidation checks, auto-symbol search/switch, and signal evaluation
// (spec §4.2's per-tick sequence).
func (e *Engine) tickMonitor(ctx context.Context, ms *monitorState, now time.Time) {
	hkDateKey := doomsday.HKDateKey(now)
	tdInfo, err := e.quotes.IsTradingDay(ctx, now, ms.cfg.Market)
	if err != nil {
		e.logger.Warn("trading day lookup failed", "monitor", ms.cfg.MonitorSymbol, "error", err)
		return
	}
	if !tdInfo.IsTradingDay {
		return
	}
	isHalfDay := tdInfo.IsHalfDay

	if e.cfg.Global.DoomsdayProtection {
		if e.clock.ShouldAutoLiquidate(now, isHalfDay) {
			e.maybeExecuteClearance(ctx, now)
		}
		e.maybeCancelPendingBuyOrders(ctx, hkDateKey, now, isHalfDay)
	}

	e.tickAutoSymbol(ctx, ms, registry.Long, true, hkDateKey, now)
	e.tickAutoSymbol(ctx, ms, registry.Short, false, hkDateKey, now)

	metrics.SetSeatReady(ms.cfg.MonitorSymbol, string(registry.Long), e.reg.GetSeatState(ms.cfg.MonitorSymbol, registry.Long).Tradable())
	metrics.SetSeatReady(ms.cfg.MonitorSymbol, string(registry.Short), e.reg.GetSeatState(ms.cfg.MonitorSymbol, registry.Short).Tradable())

	if e.clock.InOpenProtection(now) {
		return
	}
	e.evaluateSignals(ctx, ms, now)
}

// tickAutoSymbol runs the search/switch state machine for one direction's
// seat when auto_search is enabled (spec §4.10).
func (e *Engine) tickAutoSymbol(ctx context.Context, ms *monitorState, dir registry.Direction, isBull bool, hkDateKey string, now time.Time) {
	cfg := ms.cfg.AutoSearch
	if !cfg.Enabled {
		return
	}
	warrants, err := e.gw.WarrantList(ctx, ms.cfg.MonitorSymbol, "distance", false)
	if err != nil {
		e.logger.Warn("warrant list failed", "monitor", ms.cfg.MonitorSymbol, "error", err)
		return
	}
	before := e.reg.GetSeatState(ms.cfg.MonitorSymbol, dir)
	ms.autosym.MaybeSearchOnTick(ms.cfg.MonitorSymbol, dir, isBull, warrants, cfg, hkDateKey, now)
	after := e.reg.GetSeatState(ms.cfg.MonitorSymbol, dir)
	if after.Symbol != before.Symbol {
		metrics.IncAutoSymbolSwitch(ms.cfg.MonitorSymbol, string(dir))
		if before.Symbol != "" {
			// A seat switch invalidates any signal still verifying against
			// the vacated symbol (spec §4.5): purge it immediately instead
			// of letting it resolve against a symbol the seat no longer owns.
			e.verifier.CancelAllForSymbol(before.Symbol)
		}
		if after.Symbol != "" {
			if err := e.quotes.Init(ctx, []string{after.Symbol}); err != nil {
				e.logger.Warn("subscribe seat symbol failed", "monitor", ms.cfg.MonitorSymbol, "symbol", after.Symbol, "error", err)
			}
		}
	}

	if after.Status != registry.StatusReady || after.Symbol == "" {
		return
	}
	// Distance to the recall barrier is measured on the underlying's price:
	// CallPrice is quoted against the underlying, not the warrant.
	quotes, err := e.quotes.GetQuotes([]string{ms.cfg.MonitorSymbol})
	if err != nil || quotes[ms.cfg.MonitorSymbol] == nil {
		return
	}
	price := quotes[ms.cfg.MonitorSymbol].Price
	if price <= 0 {
		return
	}
	distance := (price - after.CallPrice) / price * 100
	if ms.autosym.MaybeSwitchOnDistance(ms.cfg.MonitorSymbol, dir, distance, cfg.SwitchDistanceRange, now) {
		metrics.IncAutoSymbolSwitch(ms.cfg.MonitorSymbol, string(dir))
		e.verifier.CancelAllForSymbol(after.Symbol)
		return
	}
	if ms.autosym.MaybeSwitchOnInterval(ms.cfg.MonitorSymbol, dir, 24*time.Hour, now) {
		metrics.IncAutoSymbolSwitch(ms.cfg.MonitorSymbol, string(dir))
		e.verifier.CancelAllForSymbol(after.Symbol)
	}
}

// evaluateSignals builds the monitor's indicator snapshot, evaluates its
// DSL configs, and routes each triggered signal to either the delayed
// verifier or directly to the order-processing queue (spec §4.4/§4.5).
func (e *Engine) evaluateSignals(ctx context.Context, ms *monitorState, now time.Time) {
	candles, err := e.quotes.GetCandlesticks(ctx, ms.cfg.MonitorSymbol, candlePeriod, candleLookback)
	if err != nil || len(candles) == 0 {
		return
	}
	closes := make([]indicator.Close, len(candles))
	timestamps := make([]time.Time, len(candles))
	for i, c := range candles {
		closes[i] = indicator.Close{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		timestamps[i] = c.Timestamp
	}
	snap := e.cache.GetOrBuild(ms.cfg.MonitorSymbol, closes, timestamps, indicator.DefaultPeriods())

	sigs := ms.strat.Evaluate(snap, ms.cfg.MonitorSymbol, ms.cfg.MonitorSymbol, 0)
	for _, sig := range sigs {
		dir := sig.Action.Direction()
		seat := e.reg.GetSeatState(ms.cfg.MonitorSymbol, dir)
		if !seat.Tradable() {
			strategy.Release(sig)
			continue
		}
		// Retarget the signal to the warrant's own traded price before it
		// reaches any gate or the order itself (spec §4.6): the monitor
		// price captured at Evaluate time stays in sig.MonitorPrice for the
		// distance guard only. A signal cannot be safely priced, guarded,
		// or submitted without a real warrant quote, so a missing/zero
		// quote drops it rather than falling back to the stale index price.
		qs, err := e.quotes.GetQuotes([]string{seat.Symbol})
		if err != nil || qs[seat.Symbol] == nil || qs[seat.Symbol].Price <= 0 {
			e.logger.Warn("evaluate_signals: warrant quote unavailable, dropping signal",
				"monitor", ms.cfg.MonitorSymbol, "symbol", seat.Symbol, "action", sig.Action)
			strategy.Release(sig)
			continue
		}
		sig.Symbol = seat.Symbol
		sig.SymbolName = seat.Symbol
		if qs[seat.Symbol].Name != "" {
			sig.SymbolName = qs[seat.Symbol].Name
		}
		sig.Price = qs[seat.Symbol].Price
		sig.HasPrice = true
		sig.SeatVersion = e.reg.GetSeatVersion(ms.cfg.MonitorSymbol, dir)
		metrics.IncSignal(string(sig.Action))

		if ms.strat.IsDelayed(sig.Action) {
			e.verifier.Submit(sig, ms.cfg.MonitorSymbol, ms.strat.DelaySeconds(sig.Action), now)
			continue
		}
		e.Accept(ctx, sig)
	}
}

// maybeExecuteClearance debounces executeClearance to at most once per
// second: every monitor's ticker independently detects the auto-liquidate
// window and would otherwise trigger a redundant broker round-trip on
// every tick across every monitor in the same instant.
func (e *Engine) maybeExecuteClearance(ctx context.Context, now time.Time) {
	e.doomsdayMu.Lock()
	if now.Sub(e.lastClearanceAt) < time.Second {
		e.doomsdayMu.Unlock()
		return
	}
	e.lastClearanceAt = now
	e.doomsdayMu.Unlock()
	e.executeClearance(ctx, now)
}

// executeClearance force-sells every broker-reported position whose symbol
// currently occupies a registry seat, ahead of session close (spec §4.9
// "auto-liquidate window"). Unlike a per-monitor liquidation built from the
// local buy ledger, this reads real broker positions and dedupes by
// (action, symbol) across every monitor in one pass, so two monitors that
// happen to share a warrant never double-submit. Each sell is marked
// IsProtectiveLiquidation so ProcessSellSignals clears the full position
// regardless of smart-close gating. On success for at least one position,
// the order-recorder state is reset. Nothing rebuilds it per tick:
// rehydrateLedger runs only in Start, so after the reset the ledger holds
// only what later order-changed pushes record.
func (e *Engine) executeClearance(ctx context.Context, now time.Time) {
	positions, err := e.gw.StockPositions(ctx, nil)
	if err != nil {
		e.logger.Warn("execute_clearance: fetch positions failed", "error", err)
		return
	}

	type clearanceSig struct {
		sig        *strategy.Signal
		underlying string
		dir        registry.Direction
	}
	seen := make(map[string]struct{})
	var batch []clearanceSig
	for _, pos := range positions {
		if pos.AvailableQuantity <= 0 {
			continue
		}
		underlying, dir, ok := e.reg.ResolveSeatBySymbol(pos.Symbol)
		if !ok {
			continue
		}
		seat := e.reg.GetSeatState(underlying, dir)
		if seat.Symbol != pos.Symbol {
			continue // seat has since rotated away from this symbol
		}
		action := strategy.ActionSellCall
		if dir == registry.Short {
			action = strategy.ActionSellPut
		}
		key := string(action) + "|" + pos.Symbol
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		sig := strategy.Acquire()
		sig.Action = action
		sig.Symbol = pos.Symbol
		sig.SymbolName = pos.Symbol
		sig.Quantity = pos.AvailableQuantity
		sig.IsProtectiveLiquidation = true
		sig.TriggerTime = now
		sig.SeatVersion = e.reg.GetSeatVersion(underlying, dir)
		sig.Reason = "doomsday_execute_clearance"
		batch = append(batch, clearanceSig{sig: sig, underlying: underlying, dir: dir})
	}

	hkDateKey := doomsday.HKDateKey(now)
	cleared := false
	for _, c := range batch {
		e.risk.RecordLiquidation(c.underlying, c.dir, hkDateKey, now)
		risk.ProcessSellSignals([]*strategy.Signal{c.sig}, e.ledger, e.currentPriceFor, false)
		if c.sig.Action == strategy.ActionHold {
			strategy.Release(c.sig)
			continue
		}
		timeout := time.Duration(e.cfg.Global.SellOrderTimeoutSeconds) * time.Second
		if _, err := e.trader.SubmitSell(ctx, c.sig, e.cfg.Global, timeout); err != nil {
			e.logger.Warn("execute_clearance: submit sell failed", "symbol", c.sig.Symbol, "error", err)
			strategy.Release(c.sig)
			continue
		}
		metrics.IncOrder(c.sig.Symbol, "SELL")
		cleared = true
		strategy.Release(c.sig)
	}
	if cleared {
		e.ledger.ResetAll()
	}
}

// maybeCancelPendingBuyOrders runs cancelPendingBuyOrders exactly once per
// HK date, the first time any monitor's tick observes the reject-buy
// window open (spec §4.9 "runs once per HK date when the reject-buy window
// first opens"). The guard is engine-wide (not per-monitor) since every
// monitor's ticker independently crosses the same window boundary.
func (e *Engine) maybeCancelPendingBuyOrders(ctx context.Context, hkDateKey string, now time.Time, isHalfDay bool) {
	if !e.clock.ShouldRejectBuy(now, isHalfDay) {
		return
	}
	e.doomsdayMu.Lock()
	if e.cancelledPendingBuysDate == hkDateKey {
		e.doomsdayMu.Unlock()
		return
	}
	e.cancelledPendingBuysDate = hkDateKey
	e.doomsdayMu.Unlock()
	e.cancelPendingBuyOrders(ctx)
}

// cancelPendingBuyOrders cancels every live BUY order across all seat
// symbols (spec §4.9) — once the reject-buy window opens, no buy should be
// left resting on the book waiting for a fill that risk checks would now
// refuse to originate.
func (e *Engine) cancelPendingBuyOrders(ctx context.Context) {
	orders, err := e.trader.GetPendingOrders(ctx, nil, true)
	if err != nil {
		e.logger.Warn("cancel_pending_buys: fetch pending orders failed", "error", err)
		return
	}
	for _, o := range orders {
		if o.Side != broker.SideBuy {
			continue
		}
		if err := e.gw.CancelOrder(ctx, o.OrderID); err != nil {
			e.logger.Warn("cancel_pending_buys: cancel failed", "order_id", o.OrderID, "error", err)
			continue
		}
	}
}

// Accept implements verify.Sink: it is the single entry point a passed
// (or never-delayed) signal takes into order processing, routed to the
// buy or sell queue so sells are never head-of-line-blocked by a buy's
// risk-check round-trip (spec §5).
func (e *Engine) Accept(ctx context.Context, sig *strategy.Signal) {
	if sig.Action.IsBuy() {
		e.buyQueue.Push(sig)
		return
	}
	e.sellQueue.Push(sig)
}

// handleSignal is the order-processing queue's consumer: it re-checks
// freshness, runs the appropriate risk gate, and submits the resulting
// order (spec §4.6/§4.8).
func (e *Engine) handleSignal(ctx context.Context, sig *strategy.Signal) {
	defer strategy.Release(sig)

	underlying, dir, ok := e.reg.ResolveSeatBySymbol(sig.Symbol)
	if !ok {
		return
	}
	if !e.reg.IsFresh(underlying, dir, sig.SeatVersion) {
		metrics.IncStaleSignalSkip(underlying)
		return
	}
	ms, ok := e.monitors[underlying]
	if !ok || sig.Action == strategy.ActionHold {
		return
	}

	now := time.Now().UTC()
	if sig.Action.IsBuy() {
		e.handleBuy(ctx, ms, dir, sig, now)
		return
	}
	e.handleSell(ctx, ms, sig, now)
}

func (e *Engine) handleBuy(ctx context.Context, ms *monitorState, dir registry.Direction, sig *strategy.Signal, now time.Time) {
	seat := e.reg.GetSeatState(ms.cfg.MonitorSymbol, dir)
	hkDateKey := doomsday.HKDateKey(now)
	tdInfo, _ := e.quotes.IsTradingDay(ctx, now, ms.cfg.Market)

	rows := e.ledger.BuyLedgerSnapshot(sig.Symbol, dir)
	var lastFilled float64
	hasLastFilled := false
	qty, costValue := 0, 0.0
	for _, r := range rows {
		qty += r.ExecutedQuantity
		costValue += r.ExecutedPrice * float64(r.ExecutedQuantity)
		hasLastFilled = true
		lastFilled = r.ExecutedPrice
	}
	costPrice := 0.0
	if qty > 0 {
		costPrice = costValue / float64(qty)
	}

	bctx := risk.BuyContext{
		Underlying:         ms.cfg.MonitorSymbol,
		Config:             ms.cfg,
		Global:             e.cfg.Global,
		Now:                now,
		IsHalfDay:          tdInfo.IsHalfDay,
		HKDateKey:          hkDateKey,
		CallPrice:          seat.CallPrice,
		IsBull:             dir == registry.Long,
		LastFilledBuyPrice: lastFilled,
		HasLastFilledBuy:   hasLastFilled,
		PositionQuantity:   qty,
		PositionCostPrice:  costPrice,
	}

	decisions, err := e.risk.ApplyRiskChecks(ctx, []*strategy.Signal{sig}, bctx, e.fetchAccount)
	if err != nil {
		e.logger.Warn("risk check failed", "symbol", sig.Symbol, "error", err)
		return
	}
	if len(decisions) == 0 || decisions[0].Reject != risk.RejectNone {
		if len(decisions) > 0 {
			metrics.IncRiskReject(string(decisions[0].Reject))
		}
		return
	}

	timeout := time.Duration(e.cfg.Global.BuyOrderTimeoutSeconds) * time.Second
	orderType := trader.ResolveOrderType(sig, e.cfg.Global)
	if _, err := e.trader.SubmitBuy(ctx, sig, e.cfg.Global, timeout); err != nil {
		e.logger.Warn("submit buy failed", "symbol", sig.Symbol, "order_type", orderType, "error", err)
		return
	}
	metrics.IncOrder(sig.Symbol, "BUY")
}

func (e *Engine) handleSell(ctx context.Context, ms *monitorState, sig *strategy.Signal, now time.Time) {
	risk.ProcessSellSignals([]*strategy.Signal{sig}, e.ledger, e.currentPriceFor, ms.cfg.SmartCloseEnabled)
	if sig.Action == strategy.ActionHold {
		return
	}
	timeout := time.Duration(e.cfg.Global.SellOrderTimeoutSeconds) * time.Second
	if _, err := e.trader.SubmitSell(ctx, sig, e.cfg.Global, timeout); err != nil {
		e.logger.Warn("submit sell failed", "symbol", sig.Symbol, "error", err)
		return
	}
	metrics.IncOrder(sig.Symbol, "SELL")
}

func (e *Engine) currentPriceFor(symbol string) (float64, bool) {
	qs, err := e.quotes.GetQuotes([]string{symbol})
	if err != nil || qs[symbol] == nil {
		return 0, false
	}
	return qs[symbol].Price, true
}

func (e *Engine) fetchAccount(ctx context.Context) (risk.AccountPositions, error) {
	bal, err := e.gw.AccountBalance(ctx, "HKD")
	if err != nil {
		return risk.AccountPositions{}, err
	}
	positions, err := e.gw.StockPositions(ctx, nil)
	if err != nil {
		return risk.AccountPositions{}, err
	}
	bySymbol := make(map[string]broker.StockPosition, len(positions))
	for _, p := range positions {
		bySymbol[p.Symbol] = p
	}
	return risk.AccountPositions{Balance: bal, Positions: bySymbol}, nil
}
