package doomsday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hkTime(hour, minute int) time.Time {
	now := time.Now().In(HKT)
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, HKT)
}

// Scenario 5 (spec §8): half-day, 11:47 -> rejectBuy=true; 11:57 -> auto-liquidate=true.
func TestDoomsdayHalfDayWindows(t *testing.T) {
	c := Clock{}

	assert.True(t, c.ShouldRejectBuy(hkTime(11, 47), true), "reject-buy at 11:47 on a half day")
	assert.True(t, c.ShouldAutoLiquidate(hkTime(11, 57), true), "auto-liquidate at 11:57 on a half day")
}

func TestDoomsdayNormalDayAfternoonClose(t *testing.T) {
	c := Clock{}
	assert.True(t, c.ShouldRejectBuy(hkTime(15, 50), false), "reject-buy at 15:50 on a normal day")
	assert.False(t, c.ShouldRejectBuy(hkTime(15, 40), false), "reject-buy false at 15:40, outside the 15-minute window")
	assert.True(t, c.ShouldAutoLiquidate(hkTime(15, 58), false), "auto-liquidate at 15:58")
}

func TestDoomsdayMidSessionNotRejected(t *testing.T) {
	c := Clock{}
	assert.False(t, c.ShouldRejectBuy(hkTime(10, 0), false), "no reject at 10:00")
}

func TestOpenProtectionWindow(t *testing.T) {
	c := Clock{OpenProtection: OpenProtectionWindows{MorningMinutes: 2, AfternoonMinutes: 2}}
	require.True(t, c.InOpenProtection(hkTime(9, 31)), "open protection active at 09:31 with a 2-minute window")
	assert.False(t, c.InOpenProtection(hkTime(9, 33)), "open protection inactive at 09:33, past the 2-minute window")
	assert.True(t, c.InOpenProtection(hkTime(13, 1)), "afternoon open protection active at 13:01")
}

func TestHKDateKeyIsUTCPlusEight(t *testing.T) {
	utc := time.Date(2026, 7, 31, 16, 30, 0, 0, time.UTC) // 00:30 HKT next day
	require.Equal(t, "2026-08-01", HKDateKey(utc))
}

func TestSessionMinutesBetweenExcludesLunchGap(t *testing.T) {
	from := hkTime(11, 30)
	to := hkTime(13, 30)
	minutes := SessionMinutesBetween(from, to, func(day time.Time) bool { return false })
	// 11:30-12:00 (30m) + 13:00-13:30 (30m) = 60m, excluding the 12:00-13:00 lunch gap.
	assert.Equal(t, float64(60), minutes)
}

func TestIsTradingSession(t *testing.T) {
	c := Clock{}
	assert.True(t, c.IsTradingSession(hkTime(10, 0), false), "trading session true at 10:00")
	assert.False(t, c.IsTradingSession(hkTime(12, 30), false), "trading session false during lunch")
	assert.False(t, c.IsTradingSession(hkTime(13, 30), true), "trading session false in the afternoon on a half day")
}
