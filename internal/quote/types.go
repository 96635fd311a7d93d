// Package quote implements the market-data client: push-subscription
// cache, pull calls for candles/trading-day, and static-info warmup (spec
// §4.1). It generalizes the teacher's Broker quote methods
// (broker.go: GetNowPrice/GetRecentCandles) into a dedicated cache layer
// sitting in front of the brokerage gateway.
package quote

import "time"

// Quote is a point-in-time price observation (spec §3).
type Quote struct {
	Symbol    string
	Name      string
	Price     float64
	PrevClose float64
	Timestamp time.Time
	LotSize   int
	// PushSeq orders quotes arriving out-of-order from the push channel;
	// not named in spec.md directly but implied by §5's "event bus merges
	// by sequence" rule for order-changed pushes — reused here so quote
	// pushes get the same ordering guarantee.
	PushSeq uint64
}

// ChangePercent returns (Price-PrevClose)/PrevClose*100, or 0 if PrevClose
// is zero (avoids a division by zero on a symbol's first tick).
func (q Quote) ChangePercent() float64 {
	if q.PrevClose == 0 {
		return 0
	}
	return (q.Price - q.PrevClose) / q.PrevClose * 100
}

// Candle is one OHLCV bar (spec §3). Turnover is optional (zero if the
// gateway doesn't report it for the symbol/period).
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
	Timestamp time.Time
}

// StaticInfo is warmed-up, rarely-changing per-symbol metadata (spec §4.1
// "caches static info (name, lotSize) and prevClose once").
type StaticInfo struct {
	Symbol    string
	Name      string
	LotSize   int
	PrevClose float64
}

// TradingDayInfo is the 24h-TTL-cached trading-day lookup result (spec
// §4.1 isTradingDay).
type TradingDayInfo struct {
	IsTradingDay bool
	IsHalfDay    bool
}
