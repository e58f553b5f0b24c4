// Package protocol implements the two wire formats spoken by the
// observatory dispatch daemon: a line-terminated ASCII key/value protocol
// used by mounts, cameras, focusers, and clients, and a compact "g#...%"
// annex protocol used by rain sensors and dome-slit controllers.
//
// Both decoders produce the same tagged Record variant so the rest of the
// system — the Connection Registry and the Coordinator — never needs to
// know which wire format a given session speaks.
package protocol

import "fmt"

// Address is the (group, unit, camera) addressing triple shared by every
// protocol record. Matching is three-valued: Exact, Wildcard, or None.
type Address struct {
	GID string
	UID string
	CID string
}

// MatchResult is the outcome of matching an Address against a target
// (gid, uid) pair.
type MatchResult int

const (
	NoMatch MatchResult = iota
	ExactMatch
	WildcardMatch
)

// Match reports how a.GID/a.UID compares against a concrete (gid, uid)
// pair. An empty UID on the address matches every unit in the group; an
// empty GID matches every group. Exact beats wildcard when both the group
// and unit are spelled out and equal.
func (a Address) Match(gid, uid string) MatchResult {
	if a.GID == gid && a.UID == uid {
		return ExactMatch
	}
	if a.GID == gid && a.UID == "" {
		return WildcardMatch
	}
	if a.GID == "" {
		return WildcardMatch
	}
	return NoMatch
}

// Kind identifies a Record's wire variant.
type Kind string

const (
	KindRegister    Kind = "register"
	KindMountStatus Kind = "mount-status"
	KindCamStatus   Kind = "camera-status"
	KindFocusStatus Kind = "focus-status"
	KindRain        Kind = "rain"
	KindSlit        Kind = "slit"
	KindSlewTo      Kind = "slew-to"
	KindTrack       Kind = "track"
	KindHomeSync    Kind = "home-sync"
	KindPark        Kind = "park"
	KindAbortSlew   Kind = "abort-slew"
	KindAbortImage  Kind = "abort-image"
	KindAbortPlan   Kind = "abort-plan"
	KindTakeImage   Kind = "take-image"
	KindStartAuto   Kind = "start-auto"
	KindStopAuto    Kind = "stop-auto"
	KindLoadPlan    Kind = "load-plan"
	KindFwhm        Kind = "fwhm"
	KindEnable      Kind = "enable"
	KindDisable     Kind = "disable"
	KindGuide       Kind = "guide"
	KindMirrorCover Kind = "mirror-cover"
)

// CoorSys is a target coordinate system.
type CoorSys int

const (
	CoorEquatorial CoorSys = iota + 1
	CoorHorizontal
	CoorGuideTLE
)

// Record is the tagged variant every decoded protocol message satisfies.
// Concrete types below embed Base and add variant-specific fields.
type Record interface {
	Kind() Kind
	Addr() Address
}

// Base carries the addressing triple common to every record.
type Base struct {
	Address
	K Kind
}

func (b Base) Kind() Kind   { return b.K }
func (b Base) Addr() Address { return b.Address }

// Register announces a device session's identity to the Coordinator.
type Register struct {
	Base
	Role string // "mount", "camera", "focus"
}

// MountStatus mirrors spec.md §3 MountInfo on the wire.
type MountStatus struct {
	Base
	UTC      string
	State    string // Error, Freeze, Parking, Parked, Slewing, Tracking
	ErrCode  int
	RA, Dec  float64
	Azi, Alt float64
}

// CameraStatus mirrors spec.md §3 CameraInfo on the wire.
type CameraStatus struct {
	Base
	UTC      string
	State    string // Idle, Exposing, WaitSync, WaitFlat, Paused, other
	ErrCode  int
	CoolGet  float64
	Filter   string
	SeqNo    int
	Filename string
}

// FocusStatus reports a focuser's current position.
type FocusStatus struct {
	Base
	Position int
}

// Rain carries an annex rain-gauge reading. 0 = clear, >0 = rainy.
type Rain struct {
	Base
	Value int
}

// Slit carries either a dome-slit status report (from the slit
// controller) or a command (from the Coordinator), depending on
// direction. Command uses 0=close, 1=open, 2=stop.
type Slit struct {
	Base
	Command int
	State   int
}

// SlewTo commands a mount to a target in the given coordinate system.
type SlewTo struct {
	Base
	CoorSys      CoorSys
	Coor1, Coor2 float64
}

// Track commands guided tracking of a TLE-like orbital object.
type Track struct {
	Base
	ObjectName   string
	Line1, Line2 string
}

// HomeSync re-zeroes the mount's encoder offsets at its current pointing.
type HomeSync struct{ Base }

// Park commands the mount to its park position.
type Park struct{ Base }

// AbortSlew cancels an in-progress slew/track.
type AbortSlew struct{ Base }

// AbortImage cancels an in-progress exposure.
type AbortImage struct{ Base }

// AbortPlan cancels the currently running observation plan.
type AbortPlan struct{ Base }

// TakeImage requests a single manual exposure outside of plan execution.
type TakeImage struct {
	Base
	ImageType string
	ExpDur    float64
	FrameCnt  int
}

// StartAuto enables automatic plan execution for the addressed system(s).
type StartAuto struct{ Base }

// StopAuto disables automatic plan execution for the addressed system(s).
type StopAuto struct{ Base }

// LoadPlan forces the PlanStore/AstronomicalClock to reload plans on the
// next tick.
type LoadPlan struct{ Base }

// Fwhm reports an annex full-width-half-max measurement in pixels.
type Fwhm struct {
	Base
	Value float64 // pixels
}

// Enable re-activates a previously disabled device or system.
type Enable struct{ Base }

// Disable deactivates a device or system without disconnecting it.
type Disable struct{ Base }

// Guide is a pass-through correction command; spec.md §9 leaves its
// semantics (delta vs. absolute) to the mount driver.
type Guide struct {
	Base
	DRA, DDec float64
}

// MirrorCover commands the mount's mirror cover open or closed.
type MirrorCover struct {
	Base
	Open bool
}

// Error is returned by decoders instead of a Record when a message is
// malformed; the caller should close the originating session.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("protocol: %s", e.Reason) }
