// Package planstore loads observation plan files from disk, synthesizes
// calibration plans, and implements the plan-selection callback used by
// an ObservationSystem's acquisition loop. It is the spec.md §4.4
// PlanStore.
package planstore

import "time"

// PlanType classifies the kind of observation a plan describes.
type PlanType int

const (
	PlanTrack PlanType = iota + 1
	PlanPoint
	PlanManual
	PlanError
)

// ImageType orders calibration frames below science frames, which the
// regime filter in AcquireNewPlan relies on (imageType <= Dark vs.
// imageType >= Object).
type ImageType int

const (
	ImageBias ImageType = iota + 1
	ImageDark
	ImageFlat
	ImageObject
	ImageFocus
)

// State is a plan's position in its Cataloged -> Wait -> Run ->
// {Over,Interrupted,Delete,Abandon} lifecycle.
type State int

const (
	Cataloged State = iota
	Wait
	Run
	Over
	Interrupted
	Delete
	Abandon
)

func (s State) String() string {
	switch s {
	case Cataloged:
		return "Cataloged"
	case Wait:
		return "Wait"
	case Run:
		return "Run"
	case Over:
		return "Over"
	case Interrupted:
		return "Interrupted"
	case Delete:
		return "Delete"
	case Abandon:
		return "Abandon"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is one of the lifecycle's end states.
func (s State) IsTerminal() bool {
	switch s {
	case Over, Interrupted, Delete, Abandon:
		return true
	default:
		return false
	}
}

// CoorSys mirrors protocol.CoorSys without importing the protocol
// package, keeping plan parsing independent of the wire codec.
type CoorSys int

const (
	CoorEquatorial CoorSys = iota + 1
	CoorHorizontal
	CoorGuideTLE
)

// Plan is one scheduled observation request, spec.md §3 ObservationPlan.
type Plan struct {
	GID, UID   string
	PlanSN     string
	Type       PlanType
	ObjectName string
	BTime      time.Time
	ETime      time.Time
	ImageType  ImageType
	CoorSys    CoorSys
	Coor1      float64
	Coor2      float64
	Line1      string
	Line2      string
	ExpDur     float64
	FrameCount int
	State      State
}

// MatchesAddress applies spec.md §3's three-way match to plan addressing:
// an empty plan GID targets every group, and an empty plan UID targets
// every unit in the group.
func (p *Plan) MatchesAddress(gid, uid string) bool {
	if p.GID != "" && p.GID != gid {
		return false
	}
	return p.UID == "" || p.UID == uid
}
