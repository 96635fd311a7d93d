// Package autosymbol picks and rotates the warrant occupying a seat based
// on distance-to-strike and turnover criteria (spec §4.10). Grounded on
// the teacher's shouldRefit/volRiskFactor periodic-reassessment pattern in
// trader.go — a tick-driven check that only acts when a threshold is
// crossed, generalized from "should we refit the model" to "should we
// search/switch this seat's warrant".
package autosymbol

import (
	"sort"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
)

// SearchOutcome is the result of one seat search attempt.
type SearchOutcome struct {
	Found     bool
	Symbol    string
	CallPrice float64
}

// Search picks the best candidate warrant for underlying's direction from
// a broker-supplied warrant list, applying minDistancePct/
// minTurnoverPerMinute/expiryMinMonths (spec §4.10). Candidates are sorted
// by distance ascending (closest qualifying distance wins) to prefer
// higher leverage while still respecting the minimum distance floor.
func Search(warrants []broker.WarrantInfo, isBull bool, cfg config.AutoSearchConfig) SearchOutcome {
	var candidates []broker.WarrantInfo
	for _, w := range warrants {
		if w.IsBull != isBull {
			continue
		}
		if w.TurnoverPerMinute < cfg.MinTurnoverPerMinute {
			continue
		}
		if w.ExpiryMonthsRemaining < float64(cfg.ExpiryMinMonths) {
			continue
		}
		distance := w.DistancePercent
		if isBull && distance < cfg.MinDistancePct {
			continue
		}
		if !isBull && -distance < cfg.MinDistancePct {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return SearchOutcome{Found: false}
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := candidates[i].DistancePercent, candidates[j].DistancePercent
		if isBull {
			return di < dj
		}
		return di > dj
	})
	best := candidates[0]
	return SearchOutcome{Found: true, Symbol: best.Symbol, CallPrice: best.CallPrice}
}

// (w.ExpiryMonthsRemaining is a float in broker.WarrantInfo; comparing
// against an int months-min is intentional — fractional months are still
// "at least N months out".)

// ShouldSwitchOnDistance reports whether the current warrant's distance
// has left the configured switch band and a rotation should be triggered
// (spec §4.10 "switchDistanceRange").
func ShouldSwitchOnDistance(currentDistance float64, rng *config.SwitchDistanceRange) bool {
	if rng == nil {
		return false
	}
	return currentDistance < rng.MinPct || currentDistance > rng.MaxPct
}

// FailureState tracks per-day search-failure accounting for one seat
// (spec §4.10 "per-day failed-search limit and day-freeze").
type FailureState struct {
	Count         int
	TradingDayKey string
}

// ResolveNextSearchFailureState advances a seat's failure counter and
// reports whether the seat should freeze for the rest of the trading day
// (spec §4.10 "resolveNextSearchFailureState").
func ResolveNextSearchFailureState(prev FailureState, hkDateKey string, cfg config.AutoSearchConfig) (next FailureState, freeze bool) {
	if prev.TradingDayKey != hkDateKey {
		prev = FailureState{TradingDayKey: hkDateKey}
	}
	prev.Count++
	if cfg.MaxFailuresPerDay > 0 && prev.Count >= cfg.MaxFailuresPerDay {
		return prev, true
	}
	return prev, false
}

// Manager drives the tick-level search/switch decisions for every
// (underlying, direction) seat of one monitor.
type Manager struct {
	Registry *registry.Registry
	Failures map[registry.Direction]FailureState
}

// NewManager builds a Manager with empty failure state.
func NewManager(reg *registry.Registry) *Manager {
	return &Manager{Registry: reg, Failures: make(map[registry.Direction]FailureState)}
}

// MaybeSearchOnTick occupies an EMPTY or frozen-expired seat if a
// candidate warrant is found, transitioning SEARCHING -> READY, or records
// a failure and possibly freezes the seat for the day.
func (m *Manager) MaybeSearchOnTick(underlying string, dir registry.Direction, isBull bool, warrants []broker.WarrantInfo, cfg config.AutoSearchConfig, hkDateKey string, now time.Time) {
	if !cfg.Enabled {
		return
	}
	state := m.Registry.GetSeatState(underlying, dir)
	if state.Status != registry.StatusEmpty {
		return
	}
	if state.FrozenTradingDayKey == hkDateKey {
		return
	}
	nowMs := now.UnixMilli()

	m.Registry.UpdateSeatState(underlying, dir, registry.SeatState{
		Status: registry.StatusSearching, LastSearchAt: nowMs,
	})

	outcome := Search(warrants, isBull, cfg)
	if !outcome.Found {
		fs, freeze := ResolveNextSearchFailureState(m.Failures[dir], hkDateKey, cfg)
		m.Failures[dir] = fs
		next := registry.SeatState{Status: registry.StatusEmpty, LastSearchAt: nowMs, SearchFailCountToday: fs.Count}
		if freeze {
			next.FrozenTradingDayKey = hkDateKey
		}
		m.Registry.UpdateSeatState(underlying, dir, next)
		return
	}

	m.Registry.UpdateSeatState(underlying, dir, registry.SeatState{
		Status: registry.StatusSwitching, Symbol: outcome.Symbol, CallPrice: outcome.CallPrice, LastSearchAt: nowMs,
	})
	m.Registry.UpdateSeatState(underlying, dir, registry.SeatState{
		Status: registry.StatusReady, Symbol: outcome.Symbol, CallPrice: outcome.CallPrice,
		LastSearchAt: nowMs, LastSwitchAt: nowMs,
	})
}

// MaybeSwitchOnDistance rotates a READY seat out if its current distance
// left the configured switch band, resetting it to EMPTY so the next
// tick's MaybeSearchOnTick finds a replacement.
func (m *Manager) MaybeSwitchOnDistance(underlying string, dir registry.Direction, currentDistance float64, rng *config.SwitchDistanceRange, now time.Time) bool {
	state := m.Registry.GetSeatState(underlying, dir)
	if state.Status != registry.StatusReady {
		return false
	}
	if !ShouldSwitchOnDistance(currentDistance, rng) {
		return false
	}
	m.Registry.UpdateSeatState(underlying, dir, registry.SeatState{Status: registry.StatusEmpty, LastSwitchAt: now.UnixMilli()})
	return true
}

// MaybeSwitchOnInterval forces a periodic re-search regardless of distance
// (e.g. to catch a better-turnover candidate), gated on minInterval since
// the seat's last switch.
func (m *Manager) MaybeSwitchOnInterval(underlying string, dir registry.Direction, minInterval time.Duration, now time.Time) bool {
	state := m.Registry.GetSeatState(underlying, dir)
	if state.Status != registry.StatusReady {
		return false
	}
	lastSwitch := time.UnixMilli(state.LastSwitchAt)
	if now.Sub(lastSwitch) < minInterval {
		return false
	}
	m.Registry.UpdateSeatState(underlying, dir, registry.SeatState{Status: registry.StatusEmpty, LastSwitchAt: now.UnixMilli()})
	return true
}
