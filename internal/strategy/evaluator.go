package strategy

import (
	"fmt"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/indicator"
)

// SnapshotValues flattens an indicator.Snapshot into the key→value map the
// DSL evaluator reads (spec §4.4 indicator list: RSI:period, PSY:period,
// MFI, K, D, J, MACD, DIF, DEA).
func SnapshotValues(snap *indicator.Snapshot) map[string]float64 {
	values := make(map[string]float64, 4+len(snap.RSI)+len(snap.PSY))
	for p, v := range snap.RSI {
		values[Indicator{Kind: IndicatorRSI, Period: p}.Key()] = v
	}
	for p, v := range snap.PSY {
		values[Indicator{Kind: IndicatorPSY, Period: p}.Key()] = v
	}
	values[string(IndicatorMFI)] = snap.MFI
	values[string(IndicatorK)] = snap.KDJ.K
	values[string(IndicatorD)] = snap.KDJ.D
	values[string(IndicatorJ)] = snap.KDJ.J
	values[string(IndicatorMACD)] = snap.MACD
	values[string(IndicatorDIF)] = snap.DIF
	values[string(IndicatorDEA)] = snap.DEA
	return values
}

// Configs holds the four parsed per-underlying DSL configs (spec §4.4:
// "four optional signal-configs: buycall, sellcall, buyput, sellput").
type Configs struct {
	BuyCall  *Config
	SellCall *Config
	BuyPut   *Config
	SellPut  *Config
}

// ParseConfigs compiles a MonitorConfig's raw DSL strings, failing fast on
// malformed syntax the way spec §7 requires for config/structural errors.
func ParseConfigs(set config.SignalConfigSet) (Configs, error) {
	var out Configs
	var err error
	if out.BuyCall, err = parseIfSet(set.BuyCall); err != nil {
		return Configs{}, fmt.Errorf("buycall: %w", err)
	}
	if out.SellCall, err = parseIfSet(set.SellCall); err != nil {
		return Configs{}, fmt.Errorf("sellcall: %w", err)
	}
	if out.BuyPut, err = parseIfSet(set.BuyPut); err != nil {
		return Configs{}, fmt.Errorf("buyput: %w", err)
	}
	if out.SellPut, err = parseIfSet(set.SellPut); err != nil {
		return Configs{}, fmt.Errorf("sellput: %w", err)
	}
	return out, nil
}

func parseIfSet(s string) (*Config, error) {
	if s == "" {
		return nil, nil
	}
	return Parse(s)
}

// forAction returns the config governing a given action, or nil if the
// underlying doesn't configure that action.
func (c Configs) forAction(a Action) *Config {
	switch a {
	case ActionBuyCall:
		return c.BuyCall
	case ActionSellCall:
		return c.SellCall
	case ActionBuyPut:
		return c.BuyPut
	case ActionSellPut:
		return c.SellPut
	default:
		return nil
	}
}

// Strategy evaluates a monitor's DSL configs against a fresh snapshot and
// produces Signals, deciding immediate vs delayed per spec §4.4's closing
// paragraph.
type Strategy struct {
	Underlying string
	Configs    Configs
	Verify     config.VerificationConfig
}

// Evaluate checks every configured action against snap and returns the
// Signals that triggered (0, 1, or up to 4 — buycall/sellcall/buyput/
// sellput are independent). seatVersion is stamped on every Signal; when the
// action's verification rule is delayed, Indicators1 holds the T0 readings
// of its verification indicators.
func (s *Strategy) Evaluate(snap *indicator.Snapshot, symbol, symbolName string, seatVersion uint32) []*Signal {
	values := SnapshotValues(snap)
	var out []*Signal

	actions := []Action{ActionBuyCall, ActionSellCall, ActionBuyPut, ActionSellPut}
	for _, a := range actions {
		cfg := s.Configs.forAction(a)
		if cfg == nil || len(cfg.Groups) == 0 {
			continue
		}
		triggered, reason := cfg.Evaluate(values)
		if !triggered {
			continue
		}

		sig := Acquire()
		sig.Action = a
		sig.Symbol = symbol
		sig.SymbolName = symbolName
		// Price starts as the monitor price and is overwritten with the
		// warrant's own traded price once the engine resolves the seat
		// (spec §4.6: gates other than the distance guard must price off
		// the traded instrument, not the underlying index).
		sig.Price = snap.Price
		sig.HasPrice = true
		sig.MonitorPrice = snap.Price
		sig.HasMonitorPrice = true
		sig.Reason = reason
		sig.TriggerTime = snap.Timestamp
		sig.SeatVersion = seatVersion

		rule := s.verifyRuleFor(a)
		if rule.DelaySeconds > 0 && len(rule.Indicators) > 0 {
			for _, field := range rule.Indicators {
				if v, ok := values[field]; ok {
					sig.Indicators1[field] = v
				}
			}
		}
		out = append(out, sig)
	}
	return out
}

func (s *Strategy) verifyRuleFor(a Action) config.VerificationRule {
	if a.IsBuy() {
		return s.Verify.Buy
	}
	return s.Verify.Sell
}

// IsDelayed reports whether sig requires delayed verification (spec §4.4:
// "if the corresponding verification config has delaySeconds > 0 and a
// non-empty indicator list, the signal is delayed").
func (s *Strategy) IsDelayed(a Action) bool {
	rule := s.verifyRuleFor(a)
	return rule.DelaySeconds > 0 && len(rule.Indicators) > 0
}

// DelaySeconds returns the configured delay for the action's direction.
func (s *Strategy) DelaySeconds(a Action) time.Duration {
	rule := s.verifyRuleFor(a)
	return time.Duration(rule.DelaySeconds) * time.Second
}
