package obssystem

import (
	"fmt"
	"time"

	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/starwatch-observatory/obsd/internal/tletrack"
)

// startPlan dispatches p: IDLE -> SLEWING (or directly into the flat
// subroutine for Flat-image plans), per spec.md §4.5.
func (o *ObservationSystem) startPlan(p Plan) {
	o.mu.Lock()
	if o.plan != nil {
		o.mu.Unlock()
		return
	}
	o.plan = p
	o.mu.Unlock()

	p.MarkRunning()
	if o.reporter != nil {
		o.reporter.PlanStarted(o.GID, o.UID, p.ID())
	}

	if p.Image() == ImageFlat {
		o.mu.Lock()
		o.phase = PhaseExposing
		o.mu.Unlock()
		o.flatSubroutineStep()
		return
	}

	sys, c1, c2 := p.Target()
	if p.Kind() == KindTrack {
		line1, line2 := p.TLE()
		o.issueTrack(p.ObjectName(), line1, line2)
	} else {
		o.issueSlew(sys, c1, c2)
	}
}

func (o *ObservationSystem) issueSlew(sys protocol.CoorSys, c1, c2 float64) {
	o.mu.Lock()
	o.mountInfo.Slewing = true
	o.mountInfo.TargetSys = sys
	o.mountInfo.TargetCoor1 = c1
	o.mountInfo.TargetCoor2 = c2
	o.phase = PhaseSlewing
	o.mu.Unlock()
	o.sendMount(fmt.Sprintf("slew-to coorsys=%d,coor1=%.6f,coor2=%.6f", sys, c1, c2))
}

func (o *ObservationSystem) issueTrack(objectName, line1, line2 string) {
	o.mu.Lock()
	o.mountInfo.Slewing = true
	o.mountInfo.TargetSys = protocol.CoorGuideTLE
	o.phase = PhaseSlewing
	o.mu.Unlock()
	o.sendMount(fmt.Sprintf("track line1=%s,line2=%s", line1, line2))
	o.resolveTrackGeometry(objectName, line1, line2)
}

// resolveTrackGeometry asks the TrackSink for the tracked object's pass
// window and publishes it to telemetry. It never feeds the resolved
// coordinates back into the dispatch loop (the mount propagates its own
// TLE on board; this is purely an operator-facing prediction), and it
// never blocks the caller: SGP4 propagation runs on its own goroutine,
// matching the "external service" never-stall-the-core contract this
// codebase applies to every fire-and-forget notifier.
func (o *ObservationSystem) resolveTrackGeometry(objectName, line1, line2 string) {
	if o.trackSink == nil || objectName == "" {
		return
	}
	site := o.trackSink.Site(o.GID)
	gid, uid := o.GID, o.UID
	sink := o.trackSink
	go func() {
		geom, err := tletrack.Resolve(objectName, line1, line2, site, time.Now())
		if err != nil {
			o.log.Printf("obssystem %s/%s: tletrack resolve for %s: %v", gid, uid, objectName, err)
			return
		}
		sink.Publish(gid, uid, objectName, geom)
	}()
}

// enterExposing transitions SLEWING -> EXPOSING on confirmed arrival
// and triggers exposures on every coupled camera. A flat-image plan
// arriving at its reslew target gets a flat-typed take-image instead of
// the object exposure (spec.md §4.5).
func (o *ObservationSystem) enterExposing() {
	o.mu.Lock()
	o.phase = PhaseExposing
	p := o.plan
	o.mu.Unlock()
	if p == nil {
		return
	}
	if p.Image() == ImageFlat {
		dur, frames := p.Exposure()
		o.broadcastCameras(fmt.Sprintf("take-image imagetype=flat,expdur=%.3f,framecnt=%d", dur, frames))
		return
	}
	dur, frames := p.Exposure()
	o.broadcastCameras(fmt.Sprintf("take-image imagetype=object,expdur=%.3f,framecnt=%d", dur, frames))
}

// completePlan transitions EXPOSING -> IDLE with the plan marked Over,
// per spec.md §4.5.
func (o *ObservationSystem) completePlan() {
	o.mu.Lock()
	p := o.plan
	o.plan = nil
	o.phase = PhaseIdle
	o.mu.Unlock()
	if p == nil {
		return
	}
	p.MarkOver()
	if o.reporter != nil {
		o.reporter.PlanOver(o.GID, o.UID, p.ID())
	}
	o.WakeAcquisition()
}

// interruptPlan forces the running plan to Interrupted and returns the
// system to IDLE, stopping every camera, per spec.md §4.5.
func (o *ObservationSystem) interruptPlan(cause string) {
	o.mu.Lock()
	p := o.plan
	o.plan = nil
	o.phase = PhaseIdle
	o.mu.Unlock()
	if p == nil {
		return
	}
	o.broadcastCameras("expose-stop")
	p.MarkInterrupted()
	o.log.Printf("obssystem %s/%s: plan %s interrupted: %s", o.GID, o.UID, p.ID(), cause)
	if o.reporter != nil {
		o.reporter.PlanInterrupted(o.GID, o.UID, p.ID())
	}
	o.WakeAcquisition()
}

// handleManualSlew executes a client-issued slew when the system is
// idle. Slewing while in auto mode or mid-plan is a command-invalid
// case: logged and dropped with no state change. The slew bookkeeping
// (slewing flag, target) is recorded so arrival still clears the flag,
// but the plan phase stays Idle since nothing is scheduled to expose.
func (o *ObservationSystem) handleManualSlew(r *protocol.SlewTo) {
	o.mu.Lock()
	rejected := o.automode || o.plan != nil
	if !rejected {
		o.mountInfo.Slewing = true
		o.mountInfo.TargetSys = r.CoorSys
		o.mountInfo.TargetCoor1 = r.Coor1
		o.mountInfo.TargetCoor2 = r.Coor2
	}
	o.mu.Unlock()
	if rejected {
		o.log.Printf("obssystem %s/%s: slew-to rejected: busy or in auto mode", o.GID, o.UID)
		return
	}
	o.sendMount(fmt.Sprintf("slew-to coorsys=%d,coor1=%.6f,coor2=%.6f", r.CoorSys, r.Coor1, r.Coor2))
}

// handleManualTrack is the Track analogue of handleManualSlew.
func (o *ObservationSystem) handleManualTrack(r *protocol.Track) {
	o.mu.Lock()
	rejected := o.automode || o.plan != nil
	if !rejected {
		o.mountInfo.Slewing = true
		o.mountInfo.TargetSys = protocol.CoorGuideTLE
	}
	o.mu.Unlock()
	if rejected {
		o.log.Printf("obssystem %s/%s: track rejected: busy or in auto mode", o.GID, o.UID)
		return
	}
	o.sendMount(fmt.Sprintf("track line1=%s,line2=%s", r.Line1, r.Line2))
	o.resolveTrackGeometry(r.ObjectName, r.Line1, r.Line2)
}

// manualPlan is the synthetic plan a take-image command creates outside
// of regular plan selection. It satisfies the Plan interface directly;
// it never touches the PlanStore (spec.md §4.5: "manual take-image").
type manualPlan struct {
	id        string
	imageType ImageKind
	coorsys   protocol.CoorSys
	coor1     float64
	coor2     float64
	expDur    float64
	frameCnt  int
}

func (m *manualPlan) ID() string          { return m.id }
func (m *manualPlan) Kind() PlanKind      { return KindManual }
func (m *manualPlan) Image() ImageKind    { return m.imageType }
func (m *manualPlan) ObjectName() string  { return "" }
func (m *manualPlan) Exposure() (float64, int) { return m.expDur, m.frameCnt }
func (m *manualPlan) ExpiresAt() time.Time     { return time.Time{} }
func (m *manualPlan) TLE() (string, string)    { return "", "" }
func (m *manualPlan) Target() (protocol.CoorSys, float64, float64) {
	return m.coorsys, m.coor1, m.coor2
}
func (m *manualPlan) MarkRunning()     {}
func (m *manualPlan) MarkOver()        {}
func (m *manualPlan) MarkInterrupted() {}
func (m *manualPlan) Valid() bool      { return true }

// handleTakeImage synthesizes and runs a Manual plan, rejecting the
// request outright if a plan is already running (spec.md §4.5).
func (o *ObservationSystem) handleTakeImage(r *protocol.TakeImage) {
	o.mu.Lock()
	busy := o.plan != nil
	mountCoor1, mountCoor2 := o.mountInfo.RA, o.mountInfo.Dec
	o.mu.Unlock()
	if busy {
		o.log.Printf("obssystem %s/%s: take-image rejected: plan already running", o.GID, o.UID)
		return
	}

	imgType := parseImageType(r.ImageType)
	p := &manualPlan{
		id:        "manual-" + newManualID(),
		imageType: imgType,
		coorsys:   protocol.CoorEquatorial,
		coor1:     mountCoor1,
		coor2:     mountCoor2,
		expDur:    r.ExpDur,
		frameCnt:  r.FrameCnt,
	}
	o.startPlan(p)
}

func parseImageType(s string) ImageKind {
	switch s {
	case "bias":
		return ImageBias
	case "dark":
		return ImageDark
	case "flat":
		return ImageFlat
	case "focus":
		return ImageFocus
	default:
		return ImageObject
	}
}
