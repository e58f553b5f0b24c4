// Package astroclock maps wall time to a per-site sky-time regime
// (Day/Flat/Night) from the Sun's altitude, and wakes on a fixed cadence
// to detect regime transitions. It is the spec.md §4.3 AstronomicalClock.
//
// No ephemeris/solar-position library appears anywhere in the retrieved
// example corpus (the nearest relative, github.com/akhenakh/sgp4, only
// propagates satellite TLEs), so this is the one component in the system
// built entirely on math/time — see DESIGN.md for the full justification.
package astroclock

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// Regime classifies the current instant for a group's site.
type Regime int

const (
	RegimeUnknown Regime = iota
	RegimeDay
	RegimeFlat
	RegimeNight
)

func (r Regime) String() string {
	switch r {
	case RegimeDay:
		return "Day"
	case RegimeFlat:
		return "Flat"
	case RegimeNight:
		return "Night"
	default:
		return "Unknown"
	}
}

// Site is a ground station's geographic position and sky-regime
// thresholds, loaded from config (spec.md §6 "site list").
type Site struct {
	GID       string
	Name      string
	LonDeg    float64 // east positive
	LatDeg    float64 // north positive
	AltM      float64
	TZHours   int
	DayAbove  float64 // sun altitude above which regime is Day (default -6)
	NightBelow float64 // sun altitude below which regime is Night (default -12)
}

// clampThresholds enforces spec.md §4.3: "clamped so that Day - Night >= 3".
func (s *Site) clampThresholds() {
	if s.DayAbove == 0 && s.NightBelow == 0 {
		s.DayAbove = -6
		s.NightBelow = -12
	}
	if s.DayAbove-s.NightBelow < 3 {
		s.DayAbove = -6
		s.NightBelow = -12
	}
}

// EdgeEvent is emitted whenever a site's regime changes.
type EdgeEvent struct {
	GID    string
	From   Regime
	To     Regime
	At     time.Time
}

// Clock tracks sky regime per group and notifies the Coordinator of
// edges. It wakes every 5 minutes (spec.md §4.3) and also recomputes
// whenever the UTC calendar day advances.
type Clock struct {
	log *log.Logger

	mu      sync.Mutex
	sites   map[string]*Site
	regimes map[string]Regime
	lastDay int // day-of-year, for day-advance detection

	onEdge    func(EdgeEvent)
	onDayEdge func()
}

// New creates a Clock with no sites registered; call AddSite for each
// configured group before Run.
func New(logger *log.Logger) *Clock {
	return &Clock{
		log:     logger,
		sites:   make(map[string]*Site),
		regimes: make(map[string]Regime),
	}
}

// AddSite registers (or replaces) a site's geography and thresholds.
func (c *Clock) AddSite(s Site) {
	s.clampThresholds()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sites[s.GID] = &s
}

// OnEdge registers the callback invoked on every regime transition.
func (c *Clock) OnEdge(fn func(EdgeEvent)) { c.onEdge = fn }

// OnDayEdge registers the callback invoked when the UTC calendar date
// advances (spec.md §4.3 "secondary trigger").
func (c *Clock) OnDayEdge(fn func()) { c.onDayEdge = fn }

// Regime returns the last-computed regime for gid, or RegimeUnknown if
// the group is not registered or has not been scanned yet.
func (c *Clock) Regime(gid string) Regime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regimes[gid]
}

// Scan recomputes the regime for every registered site and fires edge
// callbacks for any that changed. It is exported so tests and the
// Coordinator's explicit reload path can drive it without waiting for
// the ticker.
func (c *Clock) Scan(now time.Time) {
	c.mu.Lock()
	sites := make([]*Site, 0, len(c.sites))
	for _, s := range c.sites {
		sites = append(sites, s)
	}
	c.mu.Unlock()

	for _, s := range sites {
		alt := SunAltitudeDeg(now, s.LatDeg, s.LonDeg)
		next := classify(alt, s.DayAbove, s.NightBelow)

		c.mu.Lock()
		prev := c.regimes[s.GID]
		c.regimes[s.GID] = next
		c.mu.Unlock()

		if prev != next && c.onEdge != nil {
			c.onEdge(EdgeEvent{GID: s.GID, From: prev, To: next, At: now})
		}
	}

	day := now.UTC().YearDay()
	c.mu.Lock()
	advanced := c.lastDay != 0 && day != c.lastDay
	c.lastDay = day
	c.mu.Unlock()
	if advanced && c.onDayEdge != nil {
		c.onDayEdge()
	}
}

// Run scans every 5 minutes until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	c.Scan(time.Now().UTC())

	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Scan(time.Now().UTC())
		}
	}
}

// classify implements the Day/Flat/Night split from spec.md §4.3.
func classify(altDeg, dayAbove, nightBelow float64) Regime {
	switch {
	case altDeg > dayAbove:
		return RegimeDay
	case altDeg < nightBelow:
		return RegimeNight
	default:
		return RegimeFlat
	}
}

// SunAltitudeDeg computes the Sun's altitude in degrees above the
// horizon for the given instant and observer latitude/longitude, using
// a low-precision solar position algorithm (good to about a degree,
// which is ample for Day/Flat/Night classification).
func SunAltitudeDeg(t time.Time, latDeg, lonDeg float64) float64 {
	decl, hourAngle := sunDeclAndHourAngle(t, lonDeg)

	latRad := degToRad(latDeg)
	haRad := degToRad(hourAngle)

	sinAlt := math.Sin(latRad)*math.Sin(decl) + math.Cos(latRad)*math.Cos(decl)*math.Cos(haRad)
	return radToDeg(math.Asin(clamp(sinAlt, -1, 1)))
}

// SolarHourAngleDeg returns the Sun's local hour angle in
// (-180, 180]: negative before local solar transit (morning), positive
// after (afternoon), computed from the same low-precision ephemeris as
// SunAltitudeDeg rather than a bare wall-clock/longitude offset, so it
// already folds in the equation of time.
func SolarHourAngleDeg(t time.Time, lonDeg float64) float64 {
	_, ha := sunDeclAndHourAngle(t, lonDeg)
	if ha > 180 {
		ha -= 360
	}
	return ha
}

// IsLocalMorning reports whether it is currently local solar morning
// (before solar noon) at the given longitude.
func IsLocalMorning(t time.Time, lonDeg float64) bool {
	return SolarHourAngleDeg(t, lonDeg) < 0
}

// sunDeclAndHourAngle returns the Sun's declination (radians) and local
// hour angle in degrees, normalized to [0, 360).
func sunDeclAndHourAngle(t time.Time, lonDeg float64) (decl float64, hourAngle float64) {
	ut := t.UTC()
	jd := julianDay(ut)
	d := jd - 2451545.0 // days since J2000.0

	// Mean solar anomaly and ecliptic longitude (Meeus, low-precision form).
	g := normalizeDeg(357.529 + 0.98560028*d)
	q := normalizeDeg(280.459 + 0.98564736*d)
	lEcl := normalizeDeg(q + 1.915*sinDeg(g) + 0.020*sinDeg(2*g))

	e := 23.439 - 0.00000036*d // obliquity of the ecliptic
	ra := math.Atan2(cosDeg(e)*sinDeg(lEcl), cosDeg(lEcl))
	decl = math.Asin(sinDeg(e) * sinDeg(lEcl))

	gmst := normalizeDeg(280.46061837 + 360.98564736629*d)
	lst := normalizeDeg(gmst + lonDeg)
	hourAngle = normalizeDeg(lst - radToDeg(ra))
	return decl, hourAngle
}

func julianDay(t time.Time) float64 {
	unixSeconds := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return unixSeconds/86400.0 + 2440587.5
}

func normalizeDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
func sinDeg(d float64) float64   { return math.Sin(degToRad(d)) }
func cosDeg(d float64) float64   { return math.Cos(degToRad(d)) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
