// Package scheduler implements the queue/worker architecture of spec
// §4.11: FIFO buy/sell task queues (not partitioned by monitor symbol), a coalescing
// monitor-task queue, and the RefreshGate synchronization primitive that
// blocks sell/risk work until post-trade caches are fresh. Grounded on
// the teacher's safeSend/channel-buffer idiom in step.go (drop-stale-and-
// resend on a full buffer) — generalized into a multi-queue single-
// consumer-per-queue worker set.
package scheduler

import (
	"sync"
	"sync/atomic"
)

// RefreshGate ensures no sell/risk decision acts on stale post-trade data
// (spec §3 "RefreshGate", §4.11 "RefreshGate coordination").
type RefreshGate struct {
	currentVersion uint64
	staleVersion   uint64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewRefreshGate builds a gate starting fresh (version 0, already
// satisfied).
func NewRefreshGate() *RefreshGate {
	g := &RefreshGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// MarkStale increments currentVersion and returns the new version — called
// immediately after any trade submission (spec §4.11).
func (g *RefreshGate) MarkStale() uint64 {
	v := atomic.AddUint64(&g.currentVersion, 1)
	return v
}

// MarkFresh raises staleVersion to max(staleVersion, v) — called by the
// PostTradeRefresh worker once account/position/distance data has been
// refreshed for version v.
func (g *RefreshGate) MarkFresh(v uint64) {
	g.mu.Lock()
	if v > g.staleVersion {
		g.staleVersion = v
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// isFresh reports whether the gate currently satisfies version v (spec §3
// "fresh when staleVersion >= currentVersion at time of check" — here
// generalized per-caller: a caller is fresh once the specific version it
// captured at MarkStale time has been cleared by a later MarkFresh).
func (g *RefreshGate) isFresh(v uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.staleVersion >= v
}

// WaitForFresh blocks until MarkFresh(v') has been called for some v' >= v,
// or until stop fires (used for shutdown). Returns false if stop fired
// before the gate became fresh.
func (g *RefreshGate) WaitForFresh(v uint64, stop <-chan struct{}) bool {
	var stopped int32
	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			// Set the flag under g.mu so a waiter cannot check it and then
			// miss this Broadcast before entering cond.Wait.
			g.mu.Lock()
			atomic.StoreInt32(&stopped, 1)
			g.mu.Unlock()
			g.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.staleVersion < v {
		if atomic.LoadInt32(&stopped) == 1 {
			return false
		}
		g.cond.Wait()
	}
	return true
}

// CurrentVersion returns the latest stale-marked version (for metrics).
func (g *RefreshGate) CurrentVersion() uint64 {
	return atomic.LoadUint64(&g.currentVersion)
}

// StaleVersion returns the latest version confirmed fresh (for metrics).
func (g *RefreshGate) StaleVersion() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.staleVersion
}
