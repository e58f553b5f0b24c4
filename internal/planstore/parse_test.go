package planstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineMode1Track(t *testing.T) {
	line := "g01 u01 plan001 MODE1 20260301 010000 20260301 020000 " +
		"ISS 30.0 1 1 25544U 98067A 2 25544U 0 0"
	p, err := parseLine(line)
	require.NoError(t, err)
	assert.Equal(t, PlanTrack, p.Type)
	assert.Equal(t, ImageObject, p.ImageType)
	assert.Equal(t, "ISS", p.ObjectName)
	assert.Equal(t, 30.0, p.ExpDur)
	assert.Equal(t, 1, p.FrameCount)
	assert.Equal(t, "1 25544U 98067A", p.Line1)
	assert.Equal(t, "25544U 0 0", p.Line2)
	assert.Equal(t, Cataloged, p.State)
}

func TestParseLineMode1MissingMarkers(t *testing.T) {
	line := "g01 u01 plan001 MODE1 20260301 010000 20260301 020000 ISS 30.0"
	_, err := parseLine(line)
	require.Error(t, err)
}

func TestParseLineMode2Point(t *testing.T) {
	line := "g01 u01 plan002 MODE2 20260301 010000 20260301 020000 1 120.5 -30.25 15.0"
	p, err := parseLine(line)
	require.NoError(t, err)
	assert.Equal(t, PlanPoint, p.Type)
	assert.Equal(t, CoorEquatorial, p.CoorSys)
	assert.Equal(t, 120.5, p.Coor1)
	assert.Equal(t, -30.25, p.Coor2)
	assert.Equal(t, 15.0, p.ExpDur)
	assert.Equal(t, 1, p.FrameCount)
}

func TestParseLineMode2BadCoorSys(t *testing.T) {
	line := "g01 u01 plan002 MODE2 20260301 010000 20260301 020000 9 120.5 -30.25 15.0"
	_, err := parseLine(line)
	require.Error(t, err)
}

func TestParseLineMode3ValidatesPairsWithoutStoringThem(t *testing.T) {
	line := "g01 u01 plan003 MODE3 20260301 010000 20260301 020000 2 10.0 5.0 20.0 5 3.0 10 4.0"
	p, err := parseLine(line)
	require.NoError(t, err)
	assert.Equal(t, CoorHorizontal, p.CoorSys)
	assert.Equal(t, 10.0, p.Coor1)
	assert.Equal(t, 5.0, p.Coor2)
	assert.Equal(t, 20.0, p.ExpDur)
}

func TestParseLineMode3RejectsBadPair(t *testing.T) {
	line := "g01 u01 plan003 MODE3 20260301 010000 20260301 020000 2 10.0 5.0 20.0 notanumber 3.0 10 4.0"
	_, err := parseLine(line)
	require.Error(t, err)
}

func TestParseLineUnknownMode(t *testing.T) {
	line := "g01 u01 plan004 MODE9 20260301 010000 20260301 020000 1 2 3 4"
	_, err := parseLine(line)
	require.Error(t, err)
}

func TestParseLineTooFewFields(t *testing.T) {
	_, err := parseLine("g01 u01 plan005 MODE2")
	require.Error(t, err)
}

func TestParseLineBadTimestamps(t *testing.T) {
	line := "g01 u01 plan006 MODE2 2026030 010000 20260301 020000 1 1 1 1"
	_, err := parseLine(line)
	require.Error(t, err)
}

func TestParseYMDHMS(t *testing.T) {
	ts, err := parseYMDHMS("20260301", "123045")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, 3, int(ts.Month()))
	assert.Equal(t, 1, ts.Day())
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, 30, ts.Minute())
	assert.Equal(t, 45, ts.Second())
}
