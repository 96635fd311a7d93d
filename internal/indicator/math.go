// Package indicator computes technical indicator snapshots from candle
// series and caches them in a bounded per-symbol ring buffer (spec §4.3).
// The pure math functions here extend the teacher's indicators.go
// (SMA/RSI/ZScore) and strategy.go (EMA/ATR/MACD/OBV/RollingStd) in the
// exact same slice-in/slice-aligned-slice-out style; PSY/KDJ/MFI are new
// (spec §1 calls these "library-available" — this file is the stand-in
// library, written in the teacher's idiom since the pack ships none).
package indicator

import "math"

// Closes extracts the Close field from a candle series.
func Closes(c []Close) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i].Close
	}
	return out
}

// Close is the minimal shape this package needs from a candle, so it
// doesn't depend on internal/quote directly.
type Close struct {
	Open, High, Low, Close, Volume float64
}

// RSI returns the n-period Relative Strength Index using Wilder's
// smoothing. Indices before the first full window are zero. Copied
// verbatim in shape from the teacher's indicators.go RSI.
func RSI(c []Close, n int) []float64 {
	out := make([]float64, len(c))
	if n <= 0 || len(c) == 0 {
		return out
	}
	var gain, loss float64
	for i := 1; i < len(c); i++ {
		d := c[i].Close - c[i-1].Close
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				rs := 0.0
				if avgLoss != 0 {
					rs = avgGain / avgLoss
				}
				out[i] = 100.0 - (100.0 / (1.0 + rs))
			}
		} else {
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss*float64(n-1) + 0) / float64(n)
			} else {
				gain = (gain*float64(n-1) + 0) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			rs := 0.0
			if loss != 0 {
				rs = gain / loss
			}
			out[i] = 100.0 - (100.0 / (1.0 + rs))
		}
	}
	return out
}

// EMA returns the n-period exponential moving average of closes, aligned
// to c. Matches the teacher's strategy.go EMA behavior (seeded by SMA of
// the first n points, NaN before that).
func EMA(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / (float64(n) + 1.0)
	var sum float64
	for i := range closes {
		if i < n {
			sum += closes[i]
			if i == n-1 {
				out[i] = sum / float64(n)
			} else {
				out[i] = math.NaN()
			}
			continue
		}
		out[i] = closes[i]*k + out[i-1]*(1-k)
	}
	return out
}

// PSY returns the n-period Psychological Line: the percentage of up-days
// over the last n sessions.
func PSY(c []Close, n int) []float64 {
	out := make([]float64, len(c))
	if n <= 0 || len(c) == 0 {
		return out
	}
	ups := make([]int, len(c))
	for i := 1; i < len(c); i++ {
		if c[i].Close > c[i-1].Close {
			ups[i] = 1
		}
	}
	var windowSum int
	for i := range c {
		windowSum += ups[i]
		if i >= n {
			windowSum -= ups[i-n]
		}
		if i >= n-1 {
			out[i] = float64(windowSum) / float64(n) * 100.0
		}
	}
	return out
}

// KDJ holds the stochastic oscillator's K/D/J lines.
type KDJ struct {
	K, D, J float64
}

// ComputeKDJ returns the aligned K/D/J series for period n (conventionally
// 9), using Wilder-style 1/3 smoothing of %K into %D and J = 3D - 2K.
func ComputeKDJ(c []Close, n int) []KDJ {
	out := make([]KDJ, len(c))
	if n <= 0 || len(c) == 0 {
		return out
	}
	prevK, prevD := 50.0, 50.0
	for i := range c {
		lo, hi := c[i].Low, c[i].High
		start := i - n + 1
		if start < 0 {
			start = 0
		}
		for j := start; j <= i; j++ {
			if c[j].Low < lo {
				lo = c[j].Low
			}
			if c[j].High > hi {
				hi = c[j].High
			}
		}
		rsv := 50.0
		if hi != lo {
			rsv = (c[i].Close - lo) / (hi - lo) * 100.0
		}
		k := (2.0/3.0)*prevK + (1.0/3.0)*rsv
		d := (2.0/3.0)*prevD + (1.0/3.0)*k
		j := 3*d - 2*k
		out[i] = KDJ{K: k, D: d, J: j}
		prevK, prevD = k, d
	}
	return out
}

// MACD returns the DIF (fast-slow EMA), DEA (signal EMA of DIF), and the
// MACD histogram, matching the teacher's strategy.go MACD signature.
func MACD(closes []float64, fast, slow, signal int) (dif, dea, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	dif = make([]float64, len(closes))
	for i := range closes {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			dif[i] = math.NaN()
		} else {
			dif[i] = fastEMA[i] - slowEMA[i]
		}
	}
	dea = emaIgnoreNaN(dif, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		if math.IsNaN(dif[i]) || math.IsNaN(dea[i]) {
			hist[i] = 0
		} else {
			hist[i] = 2 * (dif[i] - dea[i])
		}
	}
	return dif, dea, hist
}

func emaIgnoreNaN(series []float64, n int) []float64 {
	out := make([]float64, len(series))
	k := 2.0 / (float64(n) + 1.0)
	seeded := false
	for i := range series {
		if math.IsNaN(series[i]) {
			out[i] = math.NaN()
			continue
		}
		if !seeded {
			out[i] = series[i]
			seeded = true
			continue
		}
		out[i] = series[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MFI returns the n-period (conventionally 14) Money Flow Index.
func MFI(c []Close, n int) []float64 {
	out := make([]float64, len(c))
	if n <= 0 || len(c) == 0 {
		return out
	}
	typicalPrice := make([]float64, len(c))
	rawFlow := make([]float64, len(c))
	for i := range c {
		typicalPrice[i] = (c[i].High + c[i].Low + c[i].Close) / 3.0
		rawFlow[i] = typicalPrice[i] * c[i].Volume
	}
	for i := range c {
		if i < n {
			continue
		}
		var posFlow, negFlow float64
		for j := i - n + 1; j <= i; j++ {
			if j == 0 {
				continue
			}
			if typicalPrice[j] > typicalPrice[j-1] {
				posFlow += rawFlow[j]
			} else if typicalPrice[j] < typicalPrice[j-1] {
				negFlow += rawFlow[j]
			}
		}
		if negFlow == 0 {
			out[i] = 100
			continue
		}
		ratio := posFlow / negFlow
		out[i] = 100 - (100 / (1 + ratio))
	}
	return out
}
