package coordinator

import (
	"time"

	"github.com/starwatch-observatory/obsd/internal/obssystem"
	"github.com/starwatch-observatory/obsd/internal/planstore"
	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/starwatch-observatory/obsd/internal/telemetry"
	"github.com/starwatch-observatory/obsd/internal/tletrack"
)

// planAdapter satisfies obssystem.Plan over a *planstore.Plan, keeping
// ObservationSystem free of any direct dependency on the plan store or
// its lock (spec.md §9: break cyclic ownership with identifiers/
// callbacks rather than shared pointers crossing package boundaries).
type planAdapter struct {
	p *planstore.Plan
}

func (a planAdapter) ID() string { return a.p.PlanSN }

func (a planAdapter) ObjectName() string { return a.p.ObjectName }

func (a planAdapter) Kind() obssystem.PlanKind {
	switch a.p.Type {
	case planstore.PlanTrack:
		return obssystem.KindTrack
	case planstore.PlanManual:
		return obssystem.KindManual
	default:
		return obssystem.KindPoint
	}
}

func (a planAdapter) Image() obssystem.ImageKind {
	switch a.p.ImageType {
	case planstore.ImageBias:
		return obssystem.ImageBias
	case planstore.ImageDark:
		return obssystem.ImageDark
	case planstore.ImageFlat:
		return obssystem.ImageFlat
	case planstore.ImageFocus:
		return obssystem.ImageFocus
	default:
		return obssystem.ImageObject
	}
}

func (a planAdapter) Target() (protocol.CoorSys, float64, float64) {
	var cs protocol.CoorSys
	switch a.p.CoorSys {
	case planstore.CoorHorizontal:
		cs = protocol.CoorHorizontal
	case planstore.CoorGuideTLE:
		cs = protocol.CoorGuideTLE
	default:
		cs = protocol.CoorEquatorial
	}
	return cs, a.p.Coor1, a.p.Coor2
}

func (a planAdapter) TLE() (string, string) { return a.p.Line1, a.p.Line2 }

func (a planAdapter) Exposure() (float64, int) { return a.p.ExpDur, a.p.FrameCount }

// ExpiresAt is the force-interrupt deadline for a running plan:
// etime + expDur + 10 s.
func (a planAdapter) ExpiresAt() time.Time {
	return a.p.ETime.Add(time.Duration(a.p.ExpDur*float64(time.Second))).Add(10 * time.Second)
}

func (a planAdapter) MarkRunning()     { a.p.State = planstore.Run }
func (a planAdapter) MarkOver()        { a.p.State = planstore.Over }
func (a planAdapter) MarkInterrupted() { a.p.State = planstore.Interrupted }
func (a planAdapter) Valid() bool      { return a.p != nil }

// coordinatorTrackSink satisfies obssystem.TrackSink by looking up a
// group's site geometry and forwarding resolved GuideTLE pass windows
// to the telemetry hub (spec.md DOMAIN STACK: internal/tletrack backs
// the Track plan type's operator-facing pass prediction).
type coordinatorTrackSink struct {
	c *Coordinator
}

func (t coordinatorTrackSink) Site(gid string) tletrack.Site {
	t.c.sitesMu.RLock()
	defer t.c.sitesMu.RUnlock()
	s, ok := t.c.sites[gid]
	if !ok {
		return tletrack.Site{}
	}
	return tletrack.Site{LatDeg: s.LatDeg, LonDeg: s.LonDeg, AltM: s.AltM}
}

func (t coordinatorTrackSink) Publish(gid, uid, objectName string, geom tletrack.Geometry) {
	t.c.publish(telemetry.Event{
		Type: "track-geometry",
		GID:  gid,
		UID:  uid,
		Data: map[string]any{
			"object":      objectName,
			"aos":         geom.AOS.Format(time.RFC3339Nano),
			"los":         geom.LOS.Format(time.RFC3339Nano),
			"maxElev":     geom.MaxElev,
			"maxElevTime": geom.MaxElevTime.Format(time.RFC3339Nano),
			"aosAzimuth":  geom.AOSAzimuth,
			"losAzimuth":  geom.LOSAzimuth,
		},
	})
}
