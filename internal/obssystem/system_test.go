package obssystem

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test: ", 0)
}

// fakeSender records every line sent to it, standing in for a device
// session in tests.
type fakeSender struct {
	lines []string
}

func (f *fakeSender) Send(line string) error {
	f.lines = append(f.lines, line)
	return nil
}

// fakePlan is a minimal in-memory Plan for exercising the state machine
// without involving planstore.
type fakePlan struct {
	id        string
	kind      PlanKind
	image     ImageKind
	sys       protocol.CoorSys
	c1, c2    float64
	line1     string
	line2     string
	dur       float64
	frames    int
	expires   time.Time
	state     string // "Run", "Over", "Interrupted"
}

func (p *fakePlan) ID() string         { return p.id }
func (p *fakePlan) Kind() PlanKind     { return p.kind }
func (p *fakePlan) Image() ImageKind   { return p.image }
func (p *fakePlan) ObjectName() string { return "" }
func (p *fakePlan) Target() (protocol.CoorSys, float64, float64) {
	return p.sys, p.c1, p.c2
}
func (p *fakePlan) TLE() (string, string)        { return p.line1, p.line2 }
func (p *fakePlan) Exposure() (float64, int)     { return p.dur, p.frames }
func (p *fakePlan) ExpiresAt() time.Time         { return p.expires }
func (p *fakePlan) MarkRunning()                 { p.state = "Run" }
func (p *fakePlan) MarkOver()                    { p.state = "Over" }
func (p *fakePlan) MarkInterrupted()             { p.state = "Interrupted" }
func (p *fakePlan) Valid() bool                  { return true }

// fakeReporter records every notification fired at it.
type fakeReporter struct {
	mountStates  int
	cameraStates int
	started      []string
	over         []string
	interrupted  []string
}

func (f *fakeReporter) MountState(gid, uid string, info MountInfo)        { f.mountStates++ }
func (f *fakeReporter) CameraState(gid, uid, cid string, info CameraInfo) { f.cameraStates++ }
func (f *fakeReporter) PlanStarted(gid, uid, planSN string)               { f.started = append(f.started, planSN) }
func (f *fakeReporter) PlanOver(gid, uid, planSN string)                  { f.over = append(f.over, planSN) }
func (f *fakeReporter) PlanInterrupted(gid, uid, planSN string) {
	f.interrupted = append(f.interrupted, planSN)
}

func newTestSystem(reporter Reporter, elevationLimit float64) *ObservationSystem {
	return New(testLogger(), "G1", "U1", elevationLimit, func(gid, uid string, now time.Time) Plan {
		return nil
	}, reporter, func() bool { return true }, nil)
}

func TestCouplingIdempotentAndRejectsSecond(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	s1 := &fakeSender{}
	s2 := &fakeSender{}

	assert.True(t, o.coupleMount(s1))
	assert.True(t, o.coupleMount(s1)) // idempotent recoupling
	assert.False(t, o.coupleMount(s2))

	o.mu.Lock()
	mount := o.mount
	o.mu.Unlock()
	assert.Equal(t, Sender(s1), mount)
}

func TestStateClassification(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	assert.Equal(t, StateError, o.State())

	cam := &fakeSender{}
	o.coupleCamera("C1", cam)
	assert.Equal(t, StateManual, o.State())

	o.mu.Lock()
	o.automode = true
	o.mu.Unlock()
	assert.Equal(t, StateManual, o.State()) // no mount coupled yet => not Auto

	mnt := &fakeSender{}
	o.coupleMount(mnt)
	assert.Equal(t, StateAuto, o.State())

	o.DecoupleMount(mnt)
	o.DecoupleCamera("C1", cam)
	assert.Equal(t, StateError, o.State())
}

// TestStartAutoStopAutoProtocol drives automode via the actual
// start-auto/stop-auto protocol records (spec.md §3/§4.6), not by
// poking the field directly, since that's the path a client session
// and the Coordinator's broadcastMatching actually exercise.
func TestStartAutoStopAutoProtocol(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)
	o.coupleCamera("C1", &fakeSender{})
	assert.Equal(t, StateManual, o.State())

	o.handle(Event{Record: &protocol.StartAuto{Base: protocol.Base{
		Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindStartAuto,
	}}})
	assert.Equal(t, StateAuto, o.State())

	o.handle(Event{Record: &protocol.StopAuto{Base: protocol.Base{
		Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindStopAuto,
	}}})
	assert.Equal(t, StateManual, o.State())
}

// TestStartAutoTriggersAcquisition drives spec.md §8 scenario 1 at the
// protocol level: start-auto must wake the acquisition loop so a
// pending plan is picked up and slewed to without waiting out the 30s
// timer.
func TestStartAutoTriggersAcquisition(t *testing.T) {
	rep := &fakeReporter{}
	plan := &fakePlan{id: "P1", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 120.0, c2: 30.0, dur: 3, frames: 2}
	o := New(testLogger(), "G1", "U1", defaultElevationLimit, func(gid, uid string, now time.Time) Plan {
		if plan.state != "" {
			return nil
		}
		return plan
	}, rep, func() bool { return true }, nil)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	o.handle(Event{Record: &protocol.StartAuto{Base: protocol.Base{
		Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindStartAuto,
	}}})
	o.tryAcquire()

	require.Equal(t, "Run", plan.state)
	require.Len(t, mnt.lines, 1)
	assert.Contains(t, mnt.lines[0], "slew-to")
}

// TestHappyPath drives the spec.md §8 scenario 1: slew, arrival, expose,
// completion.
func TestHappyPath(t *testing.T) {
	rep := &fakeReporter{}
	o := newTestSystem(rep, defaultElevationLimit)
	mnt := &fakeSender{}
	cam := &fakeSender{}
	o.coupleMount(mnt)
	o.coupleCamera("C1", cam)

	plan := &fakePlan{id: "P1", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 120.0, c2: 30.0, dur: 3, frames: 2}
	o.startPlan(plan)

	require.Equal(t, "Run", plan.state)
	require.Len(t, mnt.lines, 1)
	assert.Contains(t, mnt.lines[0], "slew-to")
	require.Equal(t, []string{"P1"}, rep.started)

	o.mu.Lock()
	assert.Equal(t, PhaseSlewing, o.phase)
	o.mu.Unlock()

	// Mount reports arrival at the target.
	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Slewing", RA: 10, Dec: 10, Alt: 45,
	})
	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Tracking", RA: 120.0, Dec: 30.0, Alt: 45,
	})

	o.mu.Lock()
	assert.Equal(t, PhaseExposing, o.phase)
	o.mu.Unlock()
	require.Len(t, cam.lines, 1)
	assert.Contains(t, cam.lines[0], "take-image")

	// Camera runs through Exposing -> Idle, completing the plan.
	o.handleCameraStatus(Event{}, &protocol.CameraStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1", CID: "C1"}, K: protocol.KindCamStatus},
		State: "Exposing",
	})
	o.handleCameraStatus(Event{}, &protocol.CameraStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1", CID: "C1"}, K: protocol.KindCamStatus},
		State: "Idle",
	})

	assert.Equal(t, "Over", plan.state)
	assert.Equal(t, []string{"P1"}, rep.over)
	o.mu.Lock()
	assert.Equal(t, PhaseIdle, o.phase)
	assert.Nil(t, o.plan)
	o.mu.Unlock()
}

// TestSafetyAbort drives scenario 2: a sub-limit altitude report forces
// a park and interrupts the running plan.
func TestSafetyAbort(t *testing.T) {
	rep := &fakeReporter{}
	o := newTestSystem(rep, 20.0)
	mnt := &fakeSender{}
	cam := &fakeSender{}
	o.coupleMount(mnt)
	o.coupleCamera("C1", cam)

	plan := &fakePlan{id: "P2", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 120, c2: 30, dur: 3, frames: 2}
	o.startPlan(plan)
	o.mu.Lock()
	o.phase = PhaseExposing
	o.mu.Unlock()

	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Tracking", RA: 120, Dec: 30, Alt: 5,
	})

	require.GreaterOrEqual(t, len(mnt.lines), 1)
	assert.Equal(t, "park", mnt.lines[len(mnt.lines)-1])
	assert.Equal(t, "Interrupted", plan.state)
	assert.Equal(t, []string{"P2"}, rep.interrupted)
}

// TestSafetyAbortBoundary verifies that an altitude exactly at the limit
// never triggers a park (spec.md §8 boundary behaviour).
func TestSafetyAbortBoundary(t *testing.T) {
	o := newTestSystem(nil, 20.0)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Tracking", RA: 1, Dec: 1, Alt: 20.0,
	})
	assert.Empty(t, mnt.lines)
}

// TestSafetyDebounce verifies only every 10th sub-limit report
// re-issues the park command.
func TestSafetyDebounce(t *testing.T) {
	o := newTestSystem(nil, 20.0)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	for i := 0; i < 21; i++ {
		o.handleMountStatus(Event{}, &protocol.MountStatus{
			Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
			State: "Tracking", RA: 1, Dec: 1, Alt: 5,
		})
	}
	// Parks on report 1, 10, and 20: three total.
	assert.Equal(t, 3, len(mnt.lines))
	for _, l := range mnt.lines {
		assert.Equal(t, "park", l)
	}
}

// TestFlatSubroutineReslewAndResume drives scenario 4: a flat-image plan
// reslews to a random zenith and, within the cooldown window with every
// exposing camera synced, resumes without reslewing.
func TestFlatSubroutineReslewAndResume(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	cam := &fakeSender{}
	o.coupleMount(mnt)
	o.coupleCamera("C1", cam)

	plan := &fakePlan{id: "FLAT1", kind: KindPoint, image: ImageFlat, dur: 5, frames: 20}
	o.startPlan(plan)

	require.Len(t, mnt.lines, 1)
	assert.Contains(t, mnt.lines[0], "slew-to")

	o.mu.Lock()
	azi := o.mountInfo.TargetCoor1
	alt := o.mountInfo.TargetCoor2
	o.mu.Unlock()
	assert.True(t, azi >= 180 && azi < 270, "azimuth %v out of range before noon", azi)
	assert.True(t, alt >= 80 && alt <= 85, "altitude %v out of range", alt)

	// The mount settles at the zenith target, which starts the flat
	// exposure. One camera then enters Exposing, then WaitSync: with
	// exposingCount==1 and waitSyncCount==1, the cooldown-resume path
	// fires (lastFlat was just set by startPlan so we're well within the
	// 240s window).
	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Slewing", Azi: azi, Alt: alt,
	})
	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Tracking", Azi: azi, Alt: alt,
	})
	o.handleCameraStatus(Event{}, &protocol.CameraStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1", CID: "C1"}, K: protocol.KindCamStatus},
		State: "Exposing",
	})
	o.handleCameraStatus(Event{}, &protocol.CameraStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1", CID: "C1"}, K: protocol.KindCamStatus},
		State: "WaitSync",
	})

	require.Len(t, mnt.lines, 1, "no second slew should be issued within cooldown")
	require.NotEmpty(t, cam.lines)
	assert.Equal(t, "expose-resume", cam.lines[len(cam.lines)-1])
}

// TestFlatReslewArrivalUsesHorizontalFrame verifies that arrival at a
// flat-field reslew target is judged on azi/alt, not ra/dec: the mount
// settling at the commanded zenith position must enter EXPOSING rather
// than tripping the target-mismatch interrupt.
func TestFlatReslewArrivalUsesHorizontalFrame(t *testing.T) {
	rep := &fakeReporter{}
	o := newTestSystem(rep, defaultElevationLimit)
	mnt := &fakeSender{}
	cam := &fakeSender{}
	o.coupleMount(mnt)
	o.coupleCamera("C1", cam)

	plan := &fakePlan{id: "FLAT2", kind: KindPoint, image: ImageFlat, dur: 5, frames: 20}
	o.startPlan(plan)

	o.mu.Lock()
	azi := o.mountInfo.TargetCoor1
	alt := o.mountInfo.TargetCoor2
	require.Equal(t, PhaseSlewing, o.phase)
	o.mu.Unlock()

	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Slewing", RA: 200, Dec: 40, Azi: azi - 30, Alt: 50,
	})
	// Equatorial coordinates at the zenith bear no relation to the
	// horizontal target; arrival must still be detected.
	o.handleMountStatus(Event{}, &protocol.MountStatus{
		Base:  protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindMountStatus},
		State: "Freeze", RA: 310, Dec: 62, Azi: azi, Alt: alt,
	})

	o.mu.Lock()
	assert.Equal(t, PhaseExposing, o.phase)
	o.mu.Unlock()
	assert.Empty(t, rep.interrupted)
	assert.Equal(t, "Run", plan.state)
}

// TestExpireRunningPlan covers the forced interrupt of a plan whose
// execution deadline has passed while still Running.
func TestExpireRunningPlan(t *testing.T) {
	rep := &fakeReporter{}
	o := newTestSystem(rep, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	plan := &fakePlan{id: "P4", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial,
		c1: 10, c2: 10, dur: 3, frames: 1, expires: time.Now().Add(-time.Second)}
	o.startPlan(plan)
	require.Equal(t, "Run", plan.state)

	o.expireRunningPlan(time.Now())
	assert.Equal(t, "Interrupted", plan.state)
	assert.Equal(t, []string{"P4"}, rep.interrupted)

	// A plan with no deadline is left alone.
	forever := &fakePlan{id: "P5", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 1, c2: 1}
	o.startPlan(forever)
	o.expireRunningPlan(time.Now())
	assert.Equal(t, "Run", forever.state)
}

// TestTakeImageRejectedWhilePlanRunning covers the command-invalid case
// from spec.md §4.5/§7.
func TestTakeImageRejectedWhilePlanRunning(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)
	plan := &fakePlan{id: "P3", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 1, c2: 1}
	o.startPlan(plan)

	before := len(mnt.lines)
	o.handleTakeImage(&protocol.TakeImage{
		Base:      protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindTakeImage},
		ImageType: "object", ExpDur: 1, FrameCnt: 1,
	})
	assert.Equal(t, before, len(mnt.lines), "take-image must be rejected while a plan is running")
}

// TestManualSlewRejectedInAutoOrMidPlan covers the command-invalid rule
// for client-issued slews: executed when idle in manual mode, dropped
// in auto mode and while a plan is running.
func TestManualSlewRejectedInAutoOrMidPlan(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	slew := &protocol.SlewTo{
		Base:    protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindSlewTo},
		CoorSys: protocol.CoorEquatorial, Coor1: 10, Coor2: 20,
	}
	o.handle(Event{Record: slew})
	require.Len(t, mnt.lines, 1, "manual-mode slew must execute")
	assert.Contains(t, mnt.lines[0], "slew-to")

	o.mu.Lock()
	o.automode = true
	o.mu.Unlock()
	o.handle(Event{Record: slew})
	assert.Len(t, mnt.lines, 1, "slew while in auto mode must be dropped")

	o.mu.Lock()
	o.automode = false
	o.mu.Unlock()
	o.startPlan(&fakePlan{id: "P6", kind: KindPoint, image: ImageObject, sys: protocol.CoorEquatorial, c1: 1, c2: 1})
	require.Len(t, mnt.lines, 2)
	o.handle(Event{Record: slew})
	assert.Len(t, mnt.lines, 2, "slew while a plan is running must be dropped")
}

// TestHomeSyncRequiresTracking: home-sync while the mount is not
// tracking is a command-invalid case and must be dropped.
func TestHomeSyncRequiresTracking(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)

	sync := &protocol.HomeSync{Base: protocol.Base{Address: protocol.Address{GID: "G1", UID: "U1"}, K: protocol.KindHomeSync}}
	o.handle(Event{Record: sync})
	assert.Empty(t, mnt.lines)

	o.mu.Lock()
	o.mountInfo.State = MountTracking
	o.mu.Unlock()
	o.handle(Event{Record: sync})
	require.Len(t, mnt.lines, 1)
	assert.Equal(t, "home-sync", mnt.lines[0])
}

// TestOBSSInfoInvariant exercises the incremental counters through a
// sequence of camera-state transitions against spec.md §8's quantified
// invariant.
func TestOBSSInfoInvariant(t *testing.T) {
	var info OBSSInfo
	transitions := []struct{ prev, next CameraState }{
		{CameraIdle, CameraExposing},
		{CameraExposing, CameraWaitFlat},
		{CameraWaitFlat, CameraWaitSync},
		{CameraWaitSync, CameraExposing},
		{CameraExposing, CameraIdle},
	}
	for _, tr := range transitions {
		info.applyTransition(tr.prev, tr.next)
		assert.True(t, info.Invariant(4), "invariant violated after %+v: %+v", tr, info)
	}
	assert.Equal(t, OBSSInfo{}, info)
}

// TestIsAliveGrace covers the liveness grace window from spec.md §3/§4.5.
func TestIsAliveGrace(t *testing.T) {
	o := newTestSystem(nil, defaultElevationLimit)
	mnt := &fakeSender{}
	o.coupleMount(mnt)
	assert.True(t, o.IsAlive())

	o.DecoupleMount(mnt)
	assert.True(t, o.IsAlive(), "should still be alive within the grace interval")

	o.mu.Lock()
	o.lastActive = time.Now().Add(-defaultGrace - time.Second)
	o.mu.Unlock()
	assert.False(t, o.IsAlive())
}
