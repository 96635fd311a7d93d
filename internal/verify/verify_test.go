package verify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/indicator"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
)

type fakeSource struct {
	snaps map[string]*indicator.Snapshot
}

func (f *fakeSource) At(symbol string, t time.Time, tolerance time.Duration) (*indicator.Snapshot, bool) {
	s, ok := f.snaps[symbol]
	return s, ok
}

type fakeSink struct {
	accepted []*strategy.Signal
}

func (f *fakeSink) Accept(ctx context.Context, sig *strategy.Signal) {
	f.accepted = append(f.accepted, sig)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buySignal(t1 float64) *strategy.Signal {
	sig := strategy.Acquire()
	sig.Action = strategy.ActionBuyCall
	sig.Symbol = "12345"
	sig.Indicators1["RSI:6"] = t1
	return sig
}

func TestResolvePassesOnMonotonicImprovement(t *testing.T) {
	snap := indicator.Pool.Get()
	defer indicator.Release(snap)
	snap.RSI[6] = 25 // improved vs T0=18

	source := &fakeSource{snaps: map[string]*indicator.Snapshot{"12345": snap}}
	sink := &fakeSink{}
	v := New(source, sink, testLogger())

	sig := buySignal(18)
	now := time.Now()
	v.Submit(sig, "700", 30*time.Second, now)

	p := &pending{signal: sig, underlying: "700", t0: now, delay: 30 * time.Second, fields: []string{"RSI:6"}}
	if verdict := v.resolve(p, now.Add(30*time.Second)); verdict != VerdictPassed {
		t.Fatalf("expected pass, got %s", verdict)
	}
	strategy.Release(sig)
}

func TestResolveFailsOnRegression(t *testing.T) {
	snap := indicator.Pool.Get()
	defer indicator.Release(snap)
	snap.RSI[6] = 10 // regressed vs T0=18 on a BUY

	source := &fakeSource{snaps: map[string]*indicator.Snapshot{"12345": snap}}
	v := New(source, &fakeSink{}, testLogger())

	sig := buySignal(18)
	defer strategy.Release(sig)
	now := time.Now()
	p := &pending{signal: sig, t0: now, delay: 30 * time.Second, fields: []string{"RSI:6"}}
	if verdict := v.resolve(p, now.Add(30*time.Second)); verdict != VerdictFailed {
		t.Fatalf("expected fail, got %s", verdict)
	}
}

func TestResolveMissingDataRejects(t *testing.T) {
	source := &fakeSource{snaps: map[string]*indicator.Snapshot{}}
	v := New(source, &fakeSink{}, testLogger())

	sig := buySignal(18)
	defer strategy.Release(sig)
	now := time.Now()
	p := &pending{signal: sig, t0: now, delay: 30 * time.Second, fields: []string{"RSI:6"}}
	if verdict := v.resolve(p, now.Add(30*time.Second)); verdict != VerdictMissingData {
		t.Fatalf("expected missing_data, got %s", verdict)
	}
}

func TestSweepForwardsPassedSignalsToSink(t *testing.T) {
	snap := indicator.Pool.Get()
	defer indicator.Release(snap)
	snap.RSI[6] = 25

	source := &fakeSource{snaps: map[string]*indicator.Snapshot{"12345": snap}}
	sink := &fakeSink{}
	v := New(source, sink, testLogger())

	sig := buySignal(18)
	now := time.Now()
	v.Submit(sig, "700", 30*time.Second, now)

	v.sweep(context.Background(), now.Add(31*time.Second))

	if len(sink.accepted) != 1 {
		t.Fatalf("expected 1 accepted signal, got %d", len(sink.accepted))
	}
	if v.Len() != 0 {
		t.Fatalf("expected pending set to drain, got %d", v.Len())
	}
	strategy.Release(sig)
}

func TestCancelAllForSymbolDropsWithoutForwarding(t *testing.T) {
	v := New(&fakeSource{snaps: map[string]*indicator.Snapshot{}}, &fakeSink{}, testLogger())
	sig := buySignal(18)
	now := time.Now()
	v.Submit(sig, "700", 30*time.Second, now)

	n := v.CancelAllForSymbol("12345")
	if n != 1 {
		t.Fatalf("expected 1 cancelled, got %d", n)
	}
	if v.Len() != 0 {
		t.Fatalf("expected 0 pending after cancel, got %d", v.Len())
	}
}
