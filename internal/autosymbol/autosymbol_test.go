package autosymbol

import (
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/broker"
	"github.com/chidi150c/hkwarrant-engine/internal/config"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
)

func sampleWarrants() []broker.WarrantInfo {
	return []broker.WarrantInfo{
		{Symbol: "B1", IsBull: true, TurnoverPerMinute: 1000, ExpiryMonthsRemaining: 3, DistancePercent: 0.3, CallPrice: 19000},
		{Symbol: "B2", IsBull: true, TurnoverPerMinute: 2000, ExpiryMonthsRemaining: 4, DistancePercent: 0.8, CallPrice: 18800},
		{Symbol: "P1", IsBull: false, TurnoverPerMinute: 1500, ExpiryMonthsRemaining: 5, DistancePercent: -0.9, CallPrice: 19200},
	}
}

func TestSearchFiltersByMinDistance(t *testing.T) {
	cfg := config.AutoSearchConfig{MinDistancePct: 0.5, MinTurnoverPerMinute: 500, ExpiryMinMonths: 1}
	outcome := Search(sampleWarrants(), true, cfg)
	if !outcome.Found || outcome.Symbol != "B2" {
		t.Fatalf("expected B2 (only bull candidate clearing 0.5%% distance), got %+v", outcome)
	}
}

func TestSearchFiltersByTurnover(t *testing.T) {
	cfg := config.AutoSearchConfig{MinDistancePct: 0.1, MinTurnoverPerMinute: 5000, ExpiryMinMonths: 1}
	outcome := Search(sampleWarrants(), true, cfg)
	if outcome.Found {
		t.Fatalf("expected no candidate to clear 5000 turnover, got %+v", outcome)
	}
}

func TestSearchBearSide(t *testing.T) {
	cfg := config.AutoSearchConfig{MinDistancePct: 0.5, MinTurnoverPerMinute: 100, ExpiryMinMonths: 1}
	outcome := Search(sampleWarrants(), false, cfg)
	if !outcome.Found || outcome.Symbol != "P1" {
		t.Fatalf("expected P1, got %+v", outcome)
	}
}

func TestShouldSwitchOnDistance(t *testing.T) {
	rng := &config.SwitchDistanceRange{MinPct: 0.3, MaxPct: 1.0}
	if ShouldSwitchOnDistance(0.5, rng) {
		t.Fatal("expected no switch inside band")
	}
	if !ShouldSwitchOnDistance(0.1, rng) {
		t.Fatal("expected switch below band")
	}
	if !ShouldSwitchOnDistance(1.5, rng) {
		t.Fatal("expected switch above band")
	}
	if ShouldSwitchOnDistance(0.5, nil) {
		t.Fatal("expected no switch when range unset")
	}
}

func TestResolveNextSearchFailureStateFreezesAtLimit(t *testing.T) {
	cfg := config.AutoSearchConfig{MaxFailuresPerDay: 2}
	fs := FailureState{}
	fs, freeze := ResolveNextSearchFailureState(fs, "2026-07-31", cfg)
	if freeze || fs.Count != 1 {
		t.Fatalf("expected no freeze on first failure, got %+v freeze=%v", fs, freeze)
	}
	fs, freeze = ResolveNextSearchFailureState(fs, "2026-07-31", cfg)
	if !freeze || fs.Count != 2 {
		t.Fatalf("expected freeze at 2nd failure, got %+v freeze=%v", fs, freeze)
	}
}

func TestResolveNextSearchFailureStateResetsOnNewDay(t *testing.T) {
	cfg := config.AutoSearchConfig{MaxFailuresPerDay: 2}
	fs := FailureState{Count: 2, TradingDayKey: "2026-07-30"}
	fs, freeze := ResolveNextSearchFailureState(fs, "2026-07-31", cfg)
	if freeze || fs.Count != 1 {
		t.Fatalf("expected reset to 1 failure on a new trading day, got %+v freeze=%v", fs, freeze)
	}
}

func TestManagerMaybeSearchOnTickTransitionsEmptyToReady(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg)
	cfg := config.AutoSearchConfig{Enabled: true, MinDistancePct: 0.5, MinTurnoverPerMinute: 500, ExpiryMinMonths: 1}

	v0 := reg.GetSeatVersion("700", registry.Long)
	m.MaybeSearchOnTick("700", registry.Long, true, sampleWarrants(), cfg, "2026-07-31", time.Now())

	state := reg.GetSeatState("700", registry.Long)
	if state.Status != registry.StatusReady || state.Symbol != "B2" {
		t.Fatalf("expected READY with symbol B2, got %+v", state)
	}
	if reg.GetSeatVersion("700", registry.Long) == v0 {
		t.Fatal("expected seat version to bump on transition")
	}
}

func TestManagerMaybeSearchOnTickNoCandidateRecordsFailure(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg)
	cfg := config.AutoSearchConfig{Enabled: true, MinDistancePct: 5.0, MinTurnoverPerMinute: 500, ExpiryMinMonths: 1}

	m.MaybeSearchOnTick("700", registry.Long, true, sampleWarrants(), cfg, "2026-07-31", time.Now())

	state := reg.GetSeatState("700", registry.Long)
	if state.Status != registry.StatusEmpty || state.SearchFailCountToday != 1 {
		t.Fatalf("expected EMPTY with 1 recorded failure, got %+v", state)
	}
}

func TestManagerMaybeSwitchOnDistanceRotatesOutOfBand(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg)
	reg.UpdateSeatState("700", registry.Long, registry.SeatState{Status: registry.StatusReady, Symbol: "B1"})

	rng := &config.SwitchDistanceRange{MinPct: 0.5, MaxPct: 2.0}
	if !m.MaybeSwitchOnDistance("700", registry.Long, 0.1, rng, time.Now()) {
		t.Fatal("expected switch to trigger below band")
	}
	state := reg.GetSeatState("700", registry.Long)
	if state.Status != registry.StatusEmpty {
		t.Fatalf("expected seat reset to EMPTY, got %+v", state)
	}
}
