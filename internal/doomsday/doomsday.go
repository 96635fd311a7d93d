// Package doomsday implements HK session-time rules: the reject-buy and
// auto-liquidate pre-close windows, morning/afternoon open protection, and
// the HK calendar date key used to partition daily state (spec §4.9).
// Grounded on the teacher's midnightUTC/updateDaily roll logic in
// trader.go, generalized from a UTC daily-roll check into explicit
// Asia/Hong_Kong session-time arithmetic using a fixed +08:00 offset
// (spec §9 "timezone math must not rely on host locale").
package doomsday

import (
	"fmt"
	"time"
)

// HKT is the fixed Hong Kong offset — never derived from host locale
// (spec §9).
var HKT = time.FixedZone("HKT", 8*3600)

// Session boundaries (spec §4.9).
var (
	morningOpen  = clockTime{9, 30}
	morningClose = clockTime{12, 0}
	afternoonOpen  = clockTime{13, 0}
	afternoonClose = clockTime{16, 0}

	rejectBuyWindow     = 15 * time.Minute
	autoLiquidateWindow = 5 * time.Minute
)

type clockTime struct {
	hour, minute int
}

func (c clockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, HKT)
}

// HKDateKey returns the YYYY-MM-DD key derived from UTC+8 (spec §9 Open
// Question (b): resolveBeijingDayKey and getHKDateKey unified to one HK
// date key).
func HKDateKey(t time.Time) string {
	hk := t.In(HKT)
	return fmt.Sprintf("%04d-%02d-%02d", hk.Year(), hk.Month(), hk.Day())
}

// Clock evaluates session-time rules for one moment (spec §4.9). It is
// stateless; callers supply isHalfDay per call since the trading calendar
// is cached externally (internal/quote.Client.IsTradingDay).
type Clock struct {
	OpenProtection OpenProtectionWindows
}

// OpenProtectionWindows is how many minutes after session open signal
// generation is suppressed (spec §4.9, config §6).
type OpenProtectionWindows struct {
	MorningMinutes   int
	AfternoonMinutes int
}

// sessionEnds returns the close times applicable today: morning+afternoon
// on a normal day, morning only on a half day.
func (c Clock) sessionEnds(now time.Time, isHalfDay bool) []time.Time {
	hk := now.In(HKT)
	if isHalfDay {
		return []time.Time{morningClose.on(hk)}
	}
	return []time.Time{morningClose.on(hk), afternoonClose.on(hk)}
}

// ShouldRejectBuy reports whether now falls within 15 minutes of any
// applicable session close (spec §4.6 step 6, §4.9).
func (c Clock) ShouldRejectBuy(now time.Time, isHalfDay bool) bool {
	for _, end := range c.sessionEnds(now, isHalfDay) {
		if withinBefore(now, end, rejectBuyWindow) {
			return true
		}
	}
	return false
}

// ShouldAutoLiquidate reports whether now falls within 5 minutes of any
// applicable session close (spec §4.9 "auto-liquidate window").
func (c Clock) ShouldAutoLiquidate(now time.Time, isHalfDay bool) bool {
	for _, end := range c.sessionEnds(now, isHalfDay) {
		if withinBefore(now, end, autoLiquidateWindow) {
			return true
		}
	}
	return false
}

// withinBefore reports whether now is in [end-window, end).
func withinBefore(now, end time.Time, window time.Duration) bool {
	start := end.Add(-window)
	return !now.Before(start) && now.Before(end)
}

// InOpenProtection reports whether signal generation should be suppressed
// because the session just opened (spec §4.9: "suppresses signal
// generation, not execution").
func (c Clock) InOpenProtection(now time.Time) bool {
	hk := now.In(HKT)
	morningStart := morningOpen.on(hk)
	afternoonStart := afternoonOpen.on(hk)

	if c.OpenProtection.MorningMinutes > 0 {
		window := time.Duration(c.OpenProtection.MorningMinutes) * time.Minute
		if !hk.Before(morningStart) && hk.Before(morningStart.Add(window)) {
			return true
		}
	}
	if c.OpenProtection.AfternoonMinutes > 0 {
		window := time.Duration(c.OpenProtection.AfternoonMinutes) * time.Minute
		if !hk.Before(afternoonStart) && hk.Before(afternoonStart.Add(window)) {
			return true
		}
	}
	return false
}

// IsTradingSession reports whether now falls inside an open session
// window: the morning session, plus the afternoon one unless isHalfDay.
func (c Clock) IsTradingSession(now time.Time, isHalfDay bool) bool {
	hk := now.In(HKT)
	if !hk.Before(morningOpen.on(hk)) && hk.Before(morningClose.on(hk)) {
		return true
	}
	if isHalfDay {
		return false
	}
	return !hk.Before(afternoonOpen.on(hk)) && hk.Before(afternoonClose.on(hk))
}

// SessionMinutesBetween returns the number of minutes the HK market was
// open between from and to, used by the ledger's TIMEOUT_ONLY selector
// (spec §4.7) so order age excludes overnight/lunch gaps. isHalfDayFn
// resolves whether a given calendar day is a half day.
func SessionMinutesBetween(from, to time.Time, isHalfDayFn func(day time.Time) bool) float64 {
	if !to.After(from) {
		return 0
	}
	var total time.Duration
	cur := from
	for cur.Before(to) {
		hk := cur.In(HKT)
		dayStart := time.Date(hk.Year(), hk.Month(), hk.Day(), 0, 0, 0, 0, HKT)
		halfDay := isHalfDayFn(dayStart)

		windows := [][2]time.Time{{morningOpen.on(hk), morningClose.on(hk)}}
		if !halfDay {
			windows = append(windows, [2]time.Time{afternoonOpen.on(hk), afternoonClose.on(hk)})
		}
		for _, w := range windows {
			start, end := w[0], w[1]
			segStart := maxTime(start, cur)
			segEnd := minTime(end, to)
			if segEnd.After(segStart) {
				total += segEnd.Sub(segStart)
			}
		}
		cur = dayStart.AddDate(0, 0, 1)
	}
	return total.Minutes()
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
