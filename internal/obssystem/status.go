package obssystem

import "github.com/starwatch-observatory/obsd/internal/protocol"

// handleMountStatus applies an incoming mount-status report: coupling
// (if not yet coupled), arrival detection, and the altitude safety
// check, per spec.md §4.5.
func (o *ObservationSystem) handleMountStatus(ev Event, r *protocol.MountStatus) {
	if ev.Sender != nil {
		o.coupleMount(ev.Sender)
	}

	o.mu.Lock()
	prevState := o.mountInfo.State
	wasSlewing := o.mountInfo.Slewing

	next := parseMountState(r.State)
	o.mountInfo.UTC = r.UTC
	o.mountInfo.State = next
	o.mountInfo.ErrCode = r.ErrCode
	o.mountInfo.RA, o.mountInfo.Dec = r.RA, r.Dec
	o.mountInfo.Azi, o.mountInfo.Alt = r.Azi, r.Alt

	arrived := false
	justSettled := wasSlewing && prevState == MountSlewing && next != MountSlewing && next.IsStable()
	if justSettled {
		arrived = o.mountInfo.HasArrived()
		if arrived {
			o.mountInfo.Slewing = false
		}
	}

	// spec.md §8's boundary test ("elevation exactly at limit -> no
	// park") is the dedicated testable property and takes precedence
	// over §4.5's looser "<=" wording, so the limit itself is safe.
	belowLimit := next != MountParking && r.Alt < o.elevationLimit
	if belowLimit {
		o.mountInfo.subLimitCount++
	} else {
		o.mountInfo.subLimitCount = 0
	}
	issuePark := belowLimit && (o.mountInfo.subLimitCount == 1 || o.mountInfo.subLimitCount%safetyDebounce == 0)
	phase := o.phase
	o.mu.Unlock()

	if issuePark {
		o.sendMount("park")
		o.broadcastCameras("abort-image")
		o.interruptPlan("altitude below limit")
		return
	}

	if justSettled && phase == PhaseSlewing {
		if arrived {
			o.enterExposing()
		} else {
			o.interruptPlan("target mismatch after slew")
		}
	}
}

// handleCameraStatus applies an incoming camera-status report and
// incrementally updates the OBSSInfo counters, and drives the flat and
// plan-completion subroutines on state edges.
func (o *ObservationSystem) handleCameraStatus(ev Event, r *protocol.CameraStatus) {
	cid := r.CID
	if ev.Sender != nil {
		o.coupleCamera(cid, ev.Sender)
	}

	o.mu.Lock()
	prev := o.cameraInfo[cid].State
	next := parseCameraState(r.State)
	o.cameraInfo[cid] = CameraInfo{
		CID: cid, UTC: r.UTC, State: next, ErrCode: r.ErrCode,
		CoolGet: r.CoolGet, Filter: r.Filter, SeqNo: r.SeqNo, Filename: r.Filename,
	}
	o.info.applyTransition(prev, next)
	exposingCount, waitFlatCount, waitSyncCount := o.info.ExposingCount, o.info.WaitFlatCount, o.info.WaitSyncCount
	phase := o.phase
	o.mu.Unlock()

	if phase != PhaseExposing && phase != PhaseAwaitReslew {
		return
	}

	switch next {
	case CameraWaitFlat:
		o.flatSubroutineStep()
	case CameraWaitSync:
		if waitSyncCount == exposingCount && exposingCount > 0 {
			o.flatSubroutineStep()
		}
	case CameraIdle:
		if exposingCount == 0 && waitFlatCount == 0 && waitSyncCount == 0 {
			o.completePlan()
		}
	}
}
