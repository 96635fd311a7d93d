// Package verify runs the delayed-signal verification sweep (spec §4.5): a
// signal that required verification is held for delaySeconds, re-checked at
// three timepoints (T0, T0+Δ/2, T0+Δ) against the indicator readings taken
// at trigger time, and only forwarded to risk/trading if every checked
// indicator moved monotonically in the signal's favor. Grounded on the
// teacher's RehydratePending poll-until-resolved idiom (trader.go) —
// a single-threaded sweep goroutine instead of per-signal timers, matching
// the teacher's preference for one ticking loop over many goroutines.
package verify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chidi150c/hkwarrant-engine/internal/indicator"
	"github.com/chidi150c/hkwarrant-engine/internal/registry"
	"github.com/chidi150c/hkwarrant-engine/internal/strategy"
)

// sweepInterval matches spec §4.5's "checked on a 1s sweep".
const sweepInterval = 1 * time.Second

// Verdict is the outcome of a completed verification.
type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictPassed
	VerdictFailed
	VerdictMissingData
	VerdictCancelled
)

func (v Verdict) String() string {
	switch v {
	case VerdictPassed:
		return "passed"
	case VerdictFailed:
		return "failed"
	case VerdictMissingData:
		return "missing_data"
	case VerdictCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// pending is one signal awaiting verification.
type pending struct {
	id         uint64
	signal     *strategy.Signal
	underlying string
	t0         time.Time
	delay      time.Duration
	fields     []string
}

// SnapshotSource resolves a symbol's indicator history for lookback
// (backed by indicator.Cache.At in production).
type SnapshotSource interface {
	At(symbol string, t time.Time, tolerance time.Duration) (*indicator.Snapshot, bool)
}

// Sink receives a fully verified signal (spec §4.5: "on pass, forward to
// risk checks"; signals that fail are released back to the pool and never
// forwarded).
type Sink interface {
	Accept(ctx context.Context, sig *strategy.Signal)
}

// Verifier owns the set of in-flight delayed signals and the sweep loop
// that resolves them.
type Verifier struct {
	mu       sync.Mutex
	nextID   uint64
	items    map[uint64]*pending
	source   SnapshotSource
	sink     Sink
	logger   *slog.Logger
	tolerance time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Verifier whose timestamp-matching window for locating
// historical snapshots is fixed at ±5s (spec §4.5); it is not configurable.
func New(source SnapshotSource, sink Sink, logger *slog.Logger) *Verifier {
	return &Verifier{
		items:     make(map[uint64]*pending),
		source:    source,
		sink:      sink,
		logger:    logger,
		tolerance: 5 * time.Second,
	}
}

// Submit enqueues sig for delayed verification. sig.Indicators1 must already
// hold the T0 readings (set by strategy.Strategy.Evaluate). now is injected
// so callers (and tests) control the clock.
func (v *Verifier) Submit(sig *strategy.Signal, underlying string, delay time.Duration, now time.Time) uint64 {
	fields := make([]string, 0, len(sig.Indicators1))
	for f := range sig.Indicators1 {
		fields = append(fields, f)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.items[id] = &pending{
		id:         id,
		signal:     sig,
		underlying: underlying,
		t0:         now,
		delay:      delay,
		fields:     fields,
	}
	return id
}

// Start launches the 1s sweep goroutine.
func (v *Verifier) Start(ctx context.Context) {
	v.stopCh = make(chan struct{})
	v.doneCh = make(chan struct{})
	go v.run(ctx)
}

// Stop halts the sweep and drains in-flight signals back to the pool
// (spec §5 "no leaked pool objects on shutdown").
func (v *Verifier) Stop() {
	if v.stopCh == nil {
		return
	}
	close(v.stopCh)
	<-v.doneCh
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, p := range v.items {
		strategy.Release(p.signal)
		delete(v.items, id)
	}
}

func (v *Verifier) run(ctx context.Context) {
	defer close(v.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		case now := <-ticker.C:
			v.sweep(ctx, now)
		}
	}
}

// sweep resolves any pending item whose delay has elapsed, checking the
// monotonic three-point rule (spec §4.5):
//
//	BUY:  every checked indicator must satisfy T0 <= T0+Δ/2 <= T0+Δ
//	SELL: every checked indicator must satisfy T0 >= T0+Δ/2 >= T0+Δ
//
// A missing timepoint read (no snapshot within tolerance) rejects the
// signal rather than assuming pass (spec §4.5 "missing data counts as a
// verification failure, never a pass").
func (v *Verifier) sweep(ctx context.Context, now time.Time) {
	var ready []*pending
	v.mu.Lock()
	for id, p := range v.items {
		if now.Sub(p.t0) >= p.delay {
			ready = append(ready, p)
			delete(v.items, id)
		}
	}
	v.mu.Unlock()

	for _, p := range ready {
		verdict := v.resolve(p, now)
		v.logger.Info("verify.resolved",
			"symbol", p.signal.Symbol,
			"action", p.signal.Action,
			"verdict", verdict.String())
		if verdict == VerdictPassed {
			v.sink.Accept(ctx, p.signal)
			continue
		}
		strategy.Release(p.signal)
	}
}

// resolve checks the three timepoints T0, T0+Δ/2, T0+Δ (spec §4.5): every
// checked indicator must move monotonically in the signal's favor across
// all three reads, not merely between the first and last.
func (v *Verifier) resolve(p *pending, now time.Time) Verdict {
	if len(p.fields) == 0 {
		return VerdictPassed
	}
	mid, ok := v.source.At(p.signal.Symbol, p.t0.Add(p.delay/2), v.tolerance)
	if !ok {
		return VerdictMissingData
	}
	final, ok := v.source.At(p.signal.Symbol, p.t0.Add(p.delay), v.tolerance)
	if !ok {
		return VerdictMissingData
	}
	midVals := strategy.SnapshotValues(mid)
	finalVals := strategy.SnapshotValues(final)

	buy := p.signal.Action.IsBuy()
	for _, field := range p.fields {
		t0val, ok := p.signal.Indicators1[field]
		if !ok {
			continue
		}
		midVal, ok := midVals[field]
		if !ok {
			return VerdictMissingData
		}
		finalVal, ok := finalVals[field]
		if !ok {
			return VerdictMissingData
		}
		if buy && (midVal < t0val || finalVal < midVal) {
			return VerdictFailed
		}
		if !buy && (midVal > t0val || finalVal > midVal) {
			return VerdictFailed
		}
	}
	return VerdictPassed
}

// CancelAllForDirection drops every pending signal on underlying's seat
// matching dir without forwarding it (spec §4.5: a stale seat switch
// invalidates in-flight verifications for that direction).
func (v *Verifier) CancelAllForDirection(underlying string, dir registry.Direction) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for id, p := range v.items {
		if p.underlying != underlying || p.signal.Action.Direction() != dir {
			continue
		}
		strategy.Release(p.signal)
		delete(v.items, id)
		n++
	}
	return n
}

// CancelAllForSymbol drops every pending signal for symbol (used when a
// seat rotates out of that warrant).
func (v *Verifier) CancelAllForSymbol(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for id, p := range v.items {
		if p.signal.Symbol != symbol {
			continue
		}
		strategy.Release(p.signal)
		delete(v.items, id)
		n++
	}
	return n
}

// Len returns the number of in-flight signals (for metrics/tests).
func (v *Verifier) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}
