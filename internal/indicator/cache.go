package indicator

import (
	"sync"
	"time"
)

// Periods bundles the lookback windows the pipeline evaluates on every
// tick (spec §4.3: "compute RSI(periods), EMA(periods), PSY(periods),
// KDJ(9), MACD(12,26,9), MFI(14)").
type Periods struct {
	RSI  []int
	EMA  []int
	PSY  []int
	KDJ  int
	MACDFast, MACDSlow, MACDSignal int
	MFI  int
}

// DefaultPeriods mirrors the conventional windows named in spec §4.3.
func DefaultPeriods() Periods {
	return Periods{
		RSI: []int{6, 14}, EMA: []int{4, 8}, PSY: []int{12},
		KDJ: 9, MACDFast: 12, MACDSlow: 26, MACDSignal: 9, MFI: 14,
	}
}

// Build computes a fresh Snapshot from candles (last candle is "now").
// Pulled from the pool; a caller that builds outside the Cache must Release
// it when finished. Snapshots built through the Cache belong to its ring
// and are released once the ring drops them.
func Build(symbol string, candles []Close, timestamps []time.Time, periods Periods) *Snapshot {
	snap := Pool.Get()
	snap.Symbol = symbol
	n := len(candles)
	if n == 0 {
		return snap
	}
	last := n - 1
	snap.Price = candles[last].Close
	if n >= 2 && candles[last-1].Close != 0 {
		snap.ChangePercent = (candles[last].Close - candles[last-1].Close) / candles[last-1].Close * 100
	}
	if len(timestamps) == n {
		snap.Timestamp = timestamps[last]
	}

	for _, p := range periods.RSI {
		snap.RSI[p] = RSI(candles, p)[last]
	}
	closes := Closes(candles)
	for _, p := range periods.EMA {
		snap.EMA[p] = EMA(closes, p)[last]
	}
	for _, p := range periods.PSY {
		snap.PSY[p] = PSY(candles, p)[last]
	}
	snap.MFI = MFI(candles, periods.MFI)[last]
	snap.KDJ = ComputeKDJ(candles, periods.KDJ)[last]
	dif, dea, hist := MACD(closes, periods.MACDFast, periods.MACDSlow, periods.MACDSignal)
	snap.DIF, snap.DEA, snap.MACD = dif[last], dea[last], hist[last]
	return snap
}

type entry struct {
	snap      *Snapshot
	fp        fingerprint
	expiresAt time.Time
}

type fingerprint struct {
	length    int
	lastClose float64
}

// Cache is the per-symbol bounded ring of snapshots spec §4.3 describes:
// TTL + fingerprint invalidation, oldest-eviction beyond a size bound.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxSize  int
	ringSize int

	latest map[string]entry
	ring   map[string][]*Snapshot // bounded history, most-recent last
}

// NewCache builds a Cache with spec's defaults: 5s TTL, ring of 100,
// eviction bound of 50 live "latest" entries.
func NewCache() *Cache {
	return &Cache{
		ttl:      5 * time.Second,
		maxSize:  50,
		ringSize: 100,
		latest:   make(map[string]entry),
		ring:     make(map[string][]*Snapshot),
	}
}

// GetOrBuild returns a cached snapshot if the fingerprint is unchanged and
// the TTL hasn't expired; otherwise it recomputes and pushes into the ring.
// The replaced "latest" entry stays in the ring for lookback and goes back
// to the pool only when the ring drops it.
func (c *Cache) GetOrBuild(symbol string, candles []Close, timestamps []time.Time, periods Periods) *Snapshot {
	fp := fingerprint{length: len(candles)}
	if len(candles) > 0 {
		fp.lastClose = candles[len(candles)-1].Close
	}

	c.mu.Lock()
	if e, ok := c.latest[symbol]; ok && e.fp == fp && time.Now().Before(e.expiresAt) {
		snap := e.snap
		c.mu.Unlock()
		return snap
	}
	c.mu.Unlock()

	fresh := Build(symbol, candles, timestamps, periods)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[symbol] = entry{snap: fresh, fp: fp, expiresAt: time.Now().Add(c.ttl)}
	c.pushRing(symbol, fresh)
	c.evictIfNeeded()
	return fresh
}

func (c *Cache) pushRing(symbol string, snap *Snapshot) {
	r := c.ring[symbol]
	r = append(r, snap)
	if len(r) > c.ringSize {
		dropped := r[0]
		r = r[1:]
		if dropped != snap {
			Release(dropped)
		}
	}
	c.ring[symbol] = r
}

// evictIfNeeded drops the oldest "latest" entry once the cache exceeds its
// bound (spec §4.3 "evicts oldest when size exceeds a bound, default 50").
// Must be called with c.mu held.
func (c *Cache) evictIfNeeded() {
	if len(c.latest) <= c.maxSize {
		return
	}
	var oldestSym string
	var oldestAt time.Time
	first := true
	for sym, e := range c.latest {
		if first || e.expiresAt.Before(oldestAt) {
			oldestSym, oldestAt, first = sym, e.expiresAt, false
		}
	}
	if oldestSym != "" {
		delete(c.latest, oldestSym)
	}
}

// History returns every ring snapshot held for symbol (at most the ring
// size), oldest first. The delayed-signal verifier's lookback goes through
// At, not History.
func (c *Cache) History(symbol string) []*Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.ring[symbol]
	out := make([]*Snapshot, len(r))
	copy(out, r)
	return out
}

// At returns the ring snapshot whose Timestamp is closest to t, within
// tolerance — used by the verifier to locate T0/T0+Δ/2/T0+Δ points (spec
// §4.5 "tolerance ±5s when matching historical snapshots").
func (c *Cache) At(symbol string, t time.Time, tolerance time.Duration) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *Snapshot
	var bestDelta time.Duration
	for _, s := range c.ring[symbol] {
		delta := s.Timestamp.Sub(t)
		if delta < 0 {
			delta = -delta
		}
		if delta > tolerance {
			continue
		}
		if best == nil || delta < bestDelta {
			best, bestDelta = s, delta
		}
	}
	return best, best != nil
}
