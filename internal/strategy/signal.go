// Package strategy parses the per-underlying signal-config DSL (spec
// §4.4) and evaluates it against an indicator snapshot to produce Signals.
// The parser is hand-written (split on '|' and ',', then match each
// condition against the operator list), in the teacher's plain
// commented-function style (strategy.go's decide()); no pack repo ships a
// generic expression-DSL library, so this is a justified stdlib-only
// component (see DESIGN.md).
package strategy

import (
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/pkg/pool"
)

// Action is the high-level trading intent (spec §3 "Signal").
type Action string

const (
	ActionBuyCall Action = "BUYCALL"
	ActionSellCall Action = "SELLCALL"
	ActionBuyPut  Action = "BUYPUT"
	ActionSellPut Action = "SELLPUT"
	ActionHold    Action = "HOLD"
)

// Direction returns the seat direction a given action operates on.
func (a Action) Direction() registry.Direction {
	switch a {
	case ActionBuyCall, ActionSellCall:
		return registry.Long
	default:
		return registry.Short
	}
}

// IsBuy reports whether the action is a buy-side intent.
func (a Action) IsBuy() bool {
	return a == ActionBuyCall || a == ActionBuyPut
}

// OrderTypeOverride lets a signal force a specific order type, bypassing
// the trader's default resolution (spec §4.8 order-type priority).
type OrderTypeOverride string

// VerificationPoint is one of the three T0/T+Δ/2/T+Δ indicator readings
// recorded for a delayed signal's audit trail.
type VerificationPoint struct {
	At     time.Time
	Values map[string]float64
}

// Signal is the pooled unit of work flowing through the engine's queues
// (spec §3 "Signal").
type Signal struct {
	Action            Action
	Symbol            string
	SymbolName        string
	Price             float64
	HasPrice          bool
	// MonitorPrice is the underlying/monitor index price read at trigger
	// time (indicator.Snapshot.Price) — distinct from Price, which is
	// retargeted to the warrant's own traded price once the seat is
	// resolved. Only the warrant-distance guard (spec §4.6 step 7) reads
	// this field; every other gate and the order itself use Price.
	MonitorPrice    float64
	HasMonitorPrice bool
	LotSize           int
	Quantity          int
	Reason            string
	TriggerTime       time.Time
	SeatVersion       uint32
	OrderTypeOverride OrderTypeOverride
	IsProtectiveLiquidation bool

	Indicators1         map[string]float64
	VerificationHistory []VerificationPoint
	RelatedBuyOrderIDs  []string
}

func (s *Signal) reset() {
	*s = Signal{}
	if s.Indicators1 != nil {
		for k := range s.Indicators1 {
			delete(s.Indicators1, k)
		}
	} else {
		s.Indicators1 = make(map[string]float64)
	}
	s.VerificationHistory = s.VerificationHistory[:0]
	s.RelatedBuyOrderIDs = s.RelatedBuyOrderIDs[:0]
}

// Pool is the shared Signal pool (spec §3 "Acquired from a pool; must be
// returned after processing").
var Pool = pool.New(func() *Signal {
	return &Signal{Indicators1: make(map[string]float64)}
})

func init() {
	Pool.Reset = func(s *Signal) { s.reset() }
}

// Acquire returns a zeroed Signal from the pool.
func Acquire() *Signal { return Pool.Get() }

// Release returns s to the pool; every worker must call this in a defer
// immediately after acquiring a signal (spec §5 "no suspension allowed
// while holding a signal ... pool object without a finally release").
func Release(s *Signal) { Pool.Put(s) }
