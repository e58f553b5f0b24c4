package astroclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, RegimeDay, classify(-5.9, -6, -12))
	assert.Equal(t, RegimeFlat, classify(-6, -6, -12))
	assert.Equal(t, RegimeFlat, classify(-9, -6, -12))
	assert.Equal(t, RegimeNight, classify(-12.1, -6, -12))
	assert.Equal(t, RegimeFlat, classify(-12, -6, -12))
}

func TestClampThresholdsDefaultsZeroValue(t *testing.T) {
	s := &Site{GID: "g1"}
	s.clampThresholds()
	assert.Equal(t, -6.0, s.DayAbove)
	assert.Equal(t, -12.0, s.NightBelow)
}

func TestClampThresholdsRejectsNarrowGap(t *testing.T) {
	s := &Site{GID: "g1", DayAbove: -8, NightBelow: -9}
	s.clampThresholds()
	assert.Equal(t, -6.0, s.DayAbove)
	assert.Equal(t, -12.0, s.NightBelow)
}

func TestClampThresholdsAcceptsWideGap(t *testing.T) {
	s := &Site{GID: "g1", DayAbove: -4, NightBelow: -14}
	s.clampThresholds()
	assert.Equal(t, -4.0, s.DayAbove)
	assert.Equal(t, -14.0, s.NightBelow)
}

func TestScanFiresEdgeOnlyOnChange(t *testing.T) {
	c := New(nil)
	c.AddSite(Site{GID: "g1", LatDeg: 30, LonDeg: -110})

	var edges []EdgeEvent
	c.OnEdge(func(e EdgeEvent) { edges = append(edges, e) })

	noon := time.Date(2026, 6, 21, 20, 0, 0, 0, time.UTC) // about 12:40 local solar time at this site
	c.Scan(noon)
	require.Len(t, edges, 1)
	assert.Equal(t, RegimeUnknown, edges[0].From)

	c.Scan(noon)
	assert.Len(t, edges, 1, "second scan at same instant must not refire")
}

func TestScanFiresDayEdgeOnCalendarAdvance(t *testing.T) {
	c := New(nil)
	c.AddSite(Site{GID: "g1", LatDeg: 0, LonDeg: 0})

	fired := 0
	c.OnDayEdge(func() { fired++ })

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	c.Scan(day1)
	assert.Equal(t, 0, fired, "first scan establishes lastDay, no prior day to advance from")
	c.Scan(day2)
	assert.Equal(t, 1, fired)
	c.Scan(day2)
	assert.Equal(t, 1, fired, "rescanning the same day must not refire")
}

func TestRegimeUnknownForUnregisteredSite(t *testing.T) {
	c := New(nil)
	assert.Equal(t, RegimeUnknown, c.Regime("nosuch"))
}

func TestSunAltitudeDegNoonHighSummerLowLatitude(t *testing.T) {
	// Near the equator at local solar noon around the June solstice the
	// sun should be high in the sky.
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	alt := SunAltitudeDeg(noon, 0, 0)
	assert.Greater(t, alt, 60.0)
}

func TestSunAltitudeDegMidnightIsNegative(t *testing.T) {
	midnight := time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC)
	alt := SunAltitudeDeg(midnight, 0, 0)
	assert.Less(t, alt, 0.0)
}

func TestIsLocalMorningAtPrimeMeridian(t *testing.T) {
	morning := time.Date(2026, 6, 21, 8, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 6, 21, 16, 0, 0, 0, time.UTC)
	assert.True(t, IsLocalMorning(morning, 0))
	assert.False(t, IsLocalMorning(afternoon, 0))
}

func TestIsLocalMorningFollowsLongitudeOffset(t *testing.T) {
	// 09:00 UTC is afternoon 135 degrees east (UTC+9) but still morning
	// back at the prime meridian.
	t0 := time.Date(2026, 6, 21, 9, 0, 0, 0, time.UTC)
	assert.True(t, IsLocalMorning(t0, 0))
	assert.False(t, IsLocalMorning(t0, 135))
}
