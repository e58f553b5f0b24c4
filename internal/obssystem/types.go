// Package obssystem implements the per-group:unit observation system
// state machine: it couples one mount, its cameras, and a focuser;
// consumes control messages; and runs the slew/expose/settle pipeline.
// It is the spec.md §4.5 ObservationSystem, the largest component in
// the dispatch daemon.
package obssystem

import (
	"time"

	"github.com/starwatch-observatory/obsd/internal/protocol"
)

// MountState mirrors spec.md §3 MountInfo.state.
type MountState int

const (
	MountUnknown MountState = iota
	MountError
	MountFreeze
	MountParking
	MountParked
	MountSlewing
	MountTracking
)

func parseMountState(s string) MountState {
	switch s {
	case "Error":
		return MountError
	case "Freeze":
		return MountFreeze
	case "Parking":
		return MountParking
	case "Parked":
		return MountParked
	case "Slewing":
		return MountSlewing
	case "Tracking":
		return MountTracking
	default:
		return MountUnknown
	}
}

// IsStable reports whether m is one of the settled states a plan can be
// considered arrived or safely idle in: Freeze, Parked, or Tracking.
// This is the general predicate arrival detection specializes.
func (m MountState) IsStable() bool {
	return m == MountFreeze || m == MountParked || m == MountTracking
}

// MountInfo is the last-known state of a coupled mount, spec.md §3.
type MountInfo struct {
	UTC      string
	State    MountState
	ErrCode  int
	RA, Dec  float64
	Azi, Alt float64

	Slewing     bool
	TargetSys   protocol.CoorSys
	TargetCoor1 float64
	TargetCoor2 float64

	subLimitCount int
}

// angDelta computes the smallest signed difference between two angles
// in degrees, accounting for wraparound at 360 (spec.md §3 "|Δ| for
// coor1 wraps at 360°").
func angDelta(a, b float64) float64 {
	d := a - b
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}

// HasArrived reports whether the mount's current orientation is within
// 1 degree of the recorded target on both axes, comparing in the
// target's own coordinate frame (ra/dec for equatorial, azi/alt for
// horizontal; the first axis wraps at 360). For GuideTLE the predicate
// inverts: guide tracking is "arrived" only once the mount has moved
// away from its starting point, since it never settles on a fixed
// target.
func (m MountInfo) HasArrived() bool {
	cur1, cur2 := m.RA, m.Dec
	if m.TargetSys == protocol.CoorHorizontal {
		cur1, cur2 = m.Azi, m.Alt
	}
	within := absf(angDelta(cur1, m.TargetCoor1)) < 1 && absf(angDelta(cur2, m.TargetCoor2)) < 1
	if m.TargetSys == protocol.CoorGuideTLE {
		return !within
	}
	return within
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// CameraState mirrors spec.md §3 CameraInfo.state.
type CameraState int

const (
	CameraUnknown CameraState = iota
	CameraIdle
	CameraExposing
	CameraWaitSync
	CameraWaitFlat
	CameraPaused
	CameraOther
)

func parseCameraState(s string) CameraState {
	switch s {
	case "Idle":
		return CameraIdle
	case "Exposing":
		return CameraExposing
	case "WaitSync":
		return CameraWaitSync
	case "WaitFlat":
		return CameraWaitFlat
	case "Paused":
		return CameraPaused
	default:
		return CameraOther
	}
}

// CameraInfo is the last-known state of one coupled camera, spec.md §3.
type CameraInfo struct {
	CID      string
	UTC      string
	State    CameraState
	ErrCode  int
	CoolGet  float64
	Filter   string
	SeqNo    int
	Filename string
}

// SystemState is the composite automode/coupling classification in
// spec.md §3 ObservationSystem state.
type SystemState int

const (
	StateError SystemState = iota
	StateManual
	StateAuto
)

func (s SystemState) String() string {
	switch s {
	case StateAuto:
		return "Auto"
	case StateManual:
		return "Manual"
	default:
		return "Error"
	}
}

// Phase is the plan-execution state machine position, spec.md §4.5.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSlewing
	PhaseExposing
	PhaseAwaitReslew
)

func (p Phase) String() string {
	switch p {
	case PhaseSlewing:
		return "Slewing"
	case PhaseExposing:
		return "Exposing"
	case PhaseAwaitReslew:
		return "AwaitReslew"
	default:
		return "Idle"
	}
}

// OBSSInfo holds the incremental per-camera-state counters from spec.md
// §3/§8: 0 <= waitFlatCount+waitSyncCount <= exposingCount <= coupled
// cameras, maintained as cameras enter/leave each state rather than
// recomputed by full scan on every update.
type OBSSInfo struct {
	ExposingCount int
	WaitFlatCount int
	WaitSyncCount int
}

func (o *OBSSInfo) enterExposing() { o.ExposingCount++ }
func (o *OBSSInfo) leaveExposing() {
	if o.ExposingCount > 0 {
		o.ExposingCount--
	}
}
func (o *OBSSInfo) enterWaitFlat() { o.WaitFlatCount++ }
func (o *OBSSInfo) leaveWaitFlat() {
	if o.WaitFlatCount > 0 {
		o.WaitFlatCount--
	}
}
func (o *OBSSInfo) enterWaitSync() { o.WaitSyncCount++ }
func (o *OBSSInfo) leaveWaitSync() {
	if o.WaitSyncCount > 0 {
		o.WaitSyncCount--
	}
}

// inExposurePipeline reports whether s counts toward ExposingCount: a
// camera stays "exposing" for the whole Exposing/WaitFlat/WaitSync
// sequence, only leaving the count when it returns to Idle/Paused/other
// (spec.md §3's exposingCount is the outer pipeline count that
// waitFlatCount/waitSyncCount are subsets of, not the literal count of
// cameras whose CameraState equals Exposing).
func inExposurePipeline(s CameraState) bool {
	return s == CameraExposing || s == CameraWaitFlat || s == CameraWaitSync
}

// applyTransition moves the counters for one camera from prev to next,
// the incremental update spec.md's supplemented OBSSInfo design calls
// for instead of a full rescan per status message.
func (o *OBSSInfo) applyTransition(prev, next CameraState) {
	if inExposurePipeline(next) && !inExposurePipeline(prev) {
		o.enterExposing()
	} else if !inExposurePipeline(next) && inExposurePipeline(prev) {
		o.leaveExposing()
	}
	switch prev {
	case CameraWaitFlat:
		o.leaveWaitFlat()
	case CameraWaitSync:
		o.leaveWaitSync()
	}
	switch next {
	case CameraWaitFlat:
		o.enterWaitFlat()
	case CameraWaitSync:
		o.enterWaitSync()
	}
}

// Invariant reports whether the counters currently satisfy spec.md §8's
// quantified invariant, for tests and internal assertions.
func (o OBSSInfo) Invariant(coupledCameras int) bool {
	return 0 <= o.WaitFlatCount+o.WaitSyncCount &&
		o.WaitFlatCount+o.WaitSyncCount <= o.ExposingCount &&
		o.ExposingCount <= coupledCameras
}

// defaultElevationLimit is the fallback minimum altitude, spec.md §6.
const defaultElevationLimit = 20.0

// defaultGrace is the reclaim interval after the last device
// disconnects, spec.md §3.
const defaultGrace = 60 * time.Second

// flatCooldown is the "don't reslew" window for the flat subroutine,
// spec.md §4.5.
const flatCooldown = 240 * time.Second

// safetyDebounce re-issues park only on every Nth consecutive
// sub-limit report, spec.md §4.5.
const safetyDebounce = 10
