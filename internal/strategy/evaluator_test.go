package strategy

import (
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/indicator"
)

func newSnapshot() *indicator.Snapshot {
	snap := indicator.Pool.Get()
	snap.Symbol = "12345"
	snap.Price = 1.23
	snap.Timestamp = time.Now()
	snap.RSI[6] = 18
	snap.MFI = 12
	snap.KDJ = indicator.KDJ{K: 22, D: 18, J: -5}
	return snap
}

func TestSnapshotValuesMapsPeriodedKeys(t *testing.T) {
	snap := newSnapshot()
	defer indicator.Release(snap)
	values := SnapshotValues(snap)
	if values["RSI:6"] != 18 {
		t.Fatalf("expected RSI:6=18, got %v", values["RSI:6"])
	}
	if values["MFI"] != 12 || values["D"] != 18 || values["J"] != -5 {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestStrategyEvaluateTriggersBuyCall(t *testing.T) {
	configs, err := ParseConfigs(config.SignalConfigSet{
		BuyCall: "(RSI:6<20,MFI<15,D<20,J<-1)/3|(J<-20)",
	})
	if err != nil {
		t.Fatalf("parse configs: %v", err)
	}
	s := &Strategy{
		Underlying: "700",
		Configs:    configs,
		Verify: config.VerificationConfig{
			Buy: config.VerificationRule{DelaySeconds: 30, Indicators: []string{"RSI:6", "MFI"}},
		},
	}
	snap := newSnapshot()
	defer indicator.Release(snap)

	signals := s.Evaluate(snap, "12345", "Foo Bull", 7)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	defer Release(sig)
	if sig.Action != ActionBuyCall {
		t.Fatalf("expected BUYCALL, got %s", sig.Action)
	}
	if sig.SeatVersion != 7 {
		t.Fatalf("expected seat version 7, got %d", sig.SeatVersion)
	}
	if len(sig.Indicators1) != 2 {
		t.Fatalf("expected 2 captured indicators for delayed verification, got %d: %+v", len(sig.Indicators1), sig.Indicators1)
	}
	if !s.IsDelayed(ActionBuyCall) {
		t.Fatal("expected buycall to be delayed per verification config")
	}
	if s.DelaySeconds(ActionBuyCall) != 30*time.Second {
		t.Fatalf("expected 30s delay, got %s", s.DelaySeconds(ActionBuyCall))
	}
}

func TestStrategyEvaluateImmediateWhenNoVerificationConfigured(t *testing.T) {
	configs, err := ParseConfigs(config.SignalConfigSet{
		SellCall: "RSI:6>80",
	})
	if err != nil {
		t.Fatalf("parse configs: %v", err)
	}
	s := &Strategy{Underlying: "700", Configs: configs}
	snap := indicator.Pool.Get()
	defer indicator.Release(snap)
	snap.RSI[6] = 90

	signals := s.Evaluate(snap, "12345", "Foo Bear", 1)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	defer Release(signals[0])
	if len(signals[0].Indicators1) != 0 {
		t.Fatalf("expected no captured indicators when undelayed, got %+v", signals[0].Indicators1)
	}
	if s.IsDelayed(ActionSellCall) {
		t.Fatal("expected immediate signal")
	}
}

func TestStrategyEvaluateNoTrigger(t *testing.T) {
	configs, err := ParseConfigs(config.SignalConfigSet{BuyCall: "RSI:6<5"})
	if err != nil {
		t.Fatalf("parse configs: %v", err)
	}
	s := &Strategy{Underlying: "700", Configs: configs}
	snap := indicator.Pool.Get()
	defer indicator.Release(snap)
	snap.RSI[6] = 50

	signals := s.Evaluate(snap, "12345", "Foo Bull", 1)
	if len(signals) != 0 {
		t.Fatalf("expected no signals, got %d", len(signals))
	}
}
