// Package tletrack resolves the pass geometry of a TLE-like tracked
// object (spec.md's "track" protocol / GuideTLE coordinate system) using
// SGP4 propagation, so the operator dashboard can show predicted
// acquisition/loss-of-signal and peak elevation for whatever the mount
// was just told to track. The mount itself is responsible for live
// on-board propagation while tracking; this package never feeds
// coordinates back into the dispatch loop, only into telemetry.
package tletrack

import (
	"fmt"
	"time"

	"github.com/akhenakh/sgp4"
)

// Site is the minimal geometry GeneratePasses needs.
type Site struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// Geometry is the predicted pass window for a tracked object as seen
// from Site, covering the instant the track command was issued.
type Geometry struct {
	ObjectName  string
	AOS, LOS    time.Time
	MaxElev     float64
	MaxElevTime time.Time
	AOSAzimuth  float64
	LOSAzimuth  float64
}

// lookaheadWindow bounds how far forward/back of "now" a pass is
// searched for; 12 hours either side spans many low-Earth-orbit periods,
// comfortably bracketing a pass in progress or about to start.
const lookaheadWindow = 12 * time.Hour

// Resolve parses a two-line element set and returns the pass window
// covering `at`, or an error if no pass brackets that instant within
// lookaheadWindow (e.g. the object never rises above the horizon for
// this site).
func Resolve(objectName, line1, line2 string, site Site, at time.Time) (Geometry, error) {
	tle, err := sgp4.ParseTLE(threeLine(objectName, line1, line2))
	if err != nil {
		return Geometry{}, fmt.Errorf("tletrack: parse TLE: %w", err)
	}

	start := at.Add(-lookaheadWindow)
	end := at.Add(lookaheadWindow)
	passes, err := tle.GeneratePasses(site.LatDeg, site.LonDeg, site.AltM, start, end, 5)
	if err != nil {
		return Geometry{}, fmt.Errorf("tletrack: generate passes: %w", err)
	}

	for _, p := range passes {
		if !at.Before(p.AOS) && !at.After(p.LOS) {
			return Geometry{
				ObjectName:  objectName,
				AOS:         p.AOS,
				LOS:         p.LOS,
				MaxElev:     p.MaxElevation,
				MaxElevTime: p.MaxElevationTime,
				AOSAzimuth:  p.AOSAzimuth,
				LOSAzimuth:  p.LOSAzimuth,
			}, nil
		}
	}
	return Geometry{}, fmt.Errorf("tletrack: no pass for %s brackets %s", objectName, at.Format(time.RFC3339))
}

func threeLine(name, line1, line2 string) string {
	return name + "\n" + line1 + "\n" + line2
}
