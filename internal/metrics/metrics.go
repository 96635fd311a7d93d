// Package metrics exposes the engine's Prometheus series. Grounded on the
// teacher's metrics.go — package-level vectors registered in init() with
// small setter/incrementer helpers, generalized from the teacher's single-
// symbol bot_* names to the multi-underlying engine_* names spec §7's
// observability list calls for (order counts, gate rejections, signal
// verdicts, seat/search activity, equity).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders submitted, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals produced by the strategy evaluator, by action.",
		},
		[]string{"action"},
	)

	RiskRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_risk_rejects_total",
			Help: "Buy signals rejected by a risk gate, by reason.",
		},
		[]string{"reason"},
	)

	VerifyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_verify_results_total",
			Help: "Delayed-signal verification outcomes, by verdict.",
		},
		[]string{"verdict"},
	)

	AutoSymbolSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_autosymbol_switches_total",
			Help: "Seat symbol switches/searches, by underlying and direction.",
		},
		[]string{"underlying", "direction"},
	)

	StaleSignalSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_stale_signal_skips_total",
			Help: "Signals dropped at a task boundary because their seat version went stale.",
		},
		[]string{"underlying"},
	)

	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Latest account equity snapshot in USD.",
		},
	)

	SeatStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_seat_ready",
			Help: "1 if the seat is READY with a tradable symbol, else 0.",
		},
		[]string{"underlying", "direction"},
	)
)

func init() {
	prometheus.MustRegister(Orders, Signals, RiskRejects, VerifyResults)
	prometheus.MustRegister(AutoSymbolSwitches, StaleSignalSkips)
	prometheus.MustRegister(EquityUSD, SeatStatus)
}

// IncOrder records one submitted order.
func IncOrder(symbol, side string) { Orders.WithLabelValues(symbol, side).Inc() }

// IncSignal records one produced signal.
func IncSignal(action string) { Signals.WithLabelValues(action).Inc() }

// IncRiskReject records one risk-gate rejection.
func IncRiskReject(reason string) {
	if reason == "" {
		return
	}
	RiskRejects.WithLabelValues(reason).Inc()
}

// IncVerifyResult records one verification sweep outcome.
func IncVerifyResult(verdict string) { VerifyResults.WithLabelValues(verdict).Inc() }

// IncAutoSymbolSwitch records one seat search/switch event.
func IncAutoSymbolSwitch(underlying, direction string) {
	AutoSymbolSwitches.WithLabelValues(underlying, direction).Inc()
}

// IncStaleSignalSkip records one stale-seat-version drop.
func IncStaleSignalSkip(underlying string) { StaleSignalSkips.WithLabelValues(underlying).Inc() }

// SetEquity updates the equity gauge.
func SetEquity(v float64) { EquityUSD.Set(v) }

// SetSeatReady updates the seat-ready gauge.
func SetSeatReady(underlying, direction string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	SeatStatus.WithLabelValues(underlying, direction).Set(v)
}
