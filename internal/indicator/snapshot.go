package indicator

import (
	"time"

	"github.com/chidi150c/hkwarrant-engine/pkg/pool"
)

// Snapshot is the point-in-time bundle of computed indicators for a
// symbol (spec §3 "IndicatorSnapshot").
type Snapshot struct {
	Symbol        string
	Price         float64
	ChangePercent float64
	Timestamp     time.Time

	RSI map[int]float64
	EMA map[int]float64
	PSY map[int]float64
	MFI float64
	KDJ KDJ
	DIF float64
	DEA float64
	MACD float64
}

// reset clears every field so a pooled Snapshot carries nothing over from
// its previous use; the indicator maps are emptied in place, not
// reallocated.
func (s *Snapshot) reset() {
	s.Symbol = ""
	s.Price = 0
	s.ChangePercent = 0
	s.Timestamp = time.Time{}
	for k := range s.RSI {
		delete(s.RSI, k)
	}
	for k := range s.EMA {
		delete(s.EMA, k)
	}
	for k := range s.PSY {
		delete(s.PSY, k)
	}
	s.MFI, s.KDJ, s.DIF, s.DEA, s.MACD = 0, KDJ{}, 0, 0, 0
}

// Pool is the shared Snapshot pool (spec §3 "acquired from a pool; must be
// returned after processing", realized via pkg/pool.Pool).
var Pool = pool.New(func() *Snapshot {
	return &Snapshot{
		RSI: make(map[int]float64),
		EMA: make(map[int]float64),
		PSY: make(map[int]float64),
	}
})

func init() {
	Pool.Reset = func(s *Snapshot) { s.reset() }
}

// Release returns s to the pool; callers must not use s afterward (the
// "finally"-equivalent release point spec §3 requires).
func Release(s *Snapshot) { Pool.Put(s) }
