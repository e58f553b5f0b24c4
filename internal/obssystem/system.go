package obssystem

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/starwatch-observatory/obsd/internal/tletrack"
)

// Sender writes one encoded line to an owned device session. The
// Coordinator supplies the concrete implementation (a TCP session
// wrapper); ObservationSystem only ever sees this narrow interface, per
// spec.md §9's "no shared ownership of sessions beyond the I/O layer".
type Sender interface {
	Send(line string) error
}

// Role tags which kind of peer an inbound Event came from.
type Role int

const (
	RoleMount Role = iota
	RoleCamera
	RoleFocus
	RoleClient
)

// Event is one unit of work delivered to an ObservationSystem's inbound
// queue: a decoded protocol record plus enough provenance to route a
// reply or apply a coupling.
type Event struct {
	Record    protocol.Record
	Role      Role
	SessionID string
	Sender    Sender // set on coupling-eligible records (register/status)
}

// Reporter receives fire-and-forget status/lifecycle notifications. The
// database reporter in internal/notify implements this.
type Reporter interface {
	MountState(gid, uid string, info MountInfo)
	CameraState(gid, uid, cid string, info CameraInfo)
	PlanStarted(gid, uid, planSN string)
	PlanOver(gid, uid, planSN string)
	PlanInterrupted(gid, uid, planSN string)
}

// AcquireFunc is injected by the Coordinator so ObservationSystem never
// imports planstore/domeslit/astroclock directly; it stays a pure state
// machine over its own fields (spec.md §9: break cyclic ownership by
// giving back-references as callbacks, not pointers).
type AcquireFunc func(gid, uid string, now time.Time) Plan

// Plan is the minimal view of an acquired plan the state machine needs;
// planstore.Plan satisfies it via the adapter in the coordinator package.
type Plan interface {
	ID() string
	Kind() PlanKind
	Image() ImageKind
	ObjectName() string
	Target() (sys protocol.CoorSys, c1, c2 float64)
	TLE() (line1, line2 string)
	Exposure() (dur float64, frames int)
	ExpiresAt() time.Time // zero means no deadline (manual plans)
	MarkRunning()
	MarkOver()
	MarkInterrupted()
	Valid() bool
}

// TrackSink resolves and publishes GuideTLE pass geometry for a Track
// plan. The Coordinator supplies the concrete implementation (site
// geometry plus the telemetry hub); ObservationSystem only ever reads
// back through this narrow interface, matching internal/tletrack's own
// contract that resolved coordinates feed telemetry, never the dispatch
// loop itself.
type TrackSink interface {
	Site(gid string) tletrack.Site
	Publish(gid, uid, objectName string, geom tletrack.Geometry)
}

// PlanKind mirrors planstore.PlanType without importing it.
type PlanKind int

const (
	KindTrack PlanKind = iota
	KindPoint
	KindManual
)

// ImageKind mirrors planstore.ImageType without importing it.
type ImageKind int

const (
	ImageBias ImageKind = iota
	ImageDark
	ImageFlat
	ImageObject
	ImageFocus
)

// ObservationSystem is the per-(gid,uid) state machine described in
// spec.md §4.5.
type ObservationSystem struct {
	GID, UID       string
	log            *log.Logger
	reporter       Reporter
	acquire        AcquireFunc
	elevationLimit float64
	isLocalNoon    func() bool // local-solar-time test for flat azimuth hemisphere
	trackSink      TrackSink   // resolves/publishes GuideTLE pass geometry; may be nil

	inbound chan Event
	wake    chan struct{}
	cancel  context.CancelFunc

	mu         sync.Mutex
	mount      Sender
	cameras    map[string]Sender
	focus      Sender
	mountInfo  MountInfo
	cameraInfo map[string]CameraInfo
	info       OBSSInfo
	automode   bool
	phase      Phase
	plan       Plan
	lastFlat   time.Time
	lastActive time.Time
	rng        *zenithRNG
}

// New creates an idle ObservationSystem for (gid, uid). isLocalNoon
// reports whether the station's local solar time is currently before
// noon, used by the flat-field azimuth hemisphere rule. trackSink may
// be nil, in which case Track plans slew without resolving pass
// geometry.
func New(logger *log.Logger, gid, uid string, elevationLimit float64, acquire AcquireFunc, reporter Reporter, isLocalNoon func() bool, trackSink TrackSink) *ObservationSystem {
	return &ObservationSystem{
		GID: gid, UID: uid,
		log:            logger,
		reporter:       reporter,
		acquire:        acquire,
		elevationLimit: elevationLimit,
		isLocalNoon:    isLocalNoon,
		trackSink:      trackSink,
		inbound:        make(chan Event, 64),
		wake:           make(chan struct{}, 1),
		cameras:        make(map[string]Sender),
		cameraInfo:     make(map[string]CameraInfo),
		lastActive:     time.Now(),
		rng:            newZenithRNG(),
	}
}

// Post enqueues an event for processing; it never blocks the caller for
// long, matching spec.md §5's "inbound queues are bounded; overflow
// closes the offending session". A full queue drops the event and
// reports back via ok=false so the Coordinator can close the session.
func (o *ObservationSystem) Post(ev Event) bool {
	select {
	case o.inbound <- ev:
		return true
	default:
		return false
	}
}

// WakeAcquisition signals the acquisition loop to retry immediately
// instead of waiting out its 30 s timer (spec.md §4.5).
func (o *ObservationSystem) WakeAcquisition() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run drives the message pump, the acquisition loop, and the 5 s status
// reporter until ctx is cancelled, one goroutine each, matching the
// per-system tasks spec.md §5 assigns to an ObservationSystem.
func (o *ObservationSystem) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); o.pump(ctx) }()
	go func() { defer wg.Done(); o.acquisitionLoop(ctx) }()
	go func() { defer wg.Done(); o.statusReportLoop(ctx) }()
	wg.Wait()
}

// Stop cancels all three of the system's loops.
func (o *ObservationSystem) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *ObservationSystem) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.inbound:
			o.handle(ev)
		}
	}
}

func (o *ObservationSystem) acquisitionLoop(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.expireRunningPlan(time.Now())
			o.tryAcquire()
		case <-o.wake:
			o.tryAcquire()
		}
	}
}

// expireRunningPlan force-interrupts a plan whose execution deadline
// (etime + expDur + 10 s) has passed while still Running.
func (o *ObservationSystem) expireRunningPlan(now time.Time) {
	o.mu.Lock()
	p := o.plan
	o.mu.Unlock()
	if p == nil {
		return
	}
	if dl := p.ExpiresAt(); !dl.IsZero() && now.After(dl) {
		o.interruptPlan("plan window expired")
	}
}

// statusReportLoop pushes mount/camera state snapshots to the reporter
// on a 5 s cadence, the per-group status-reporter task from the
// concurrency model. Link/lifecycle events report immediately elsewhere;
// only the periodic snapshots live here.
func (o *ObservationSystem) statusReportLoop(ctx context.Context) {
	if o.reporter == nil {
		return
	}
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.reportSnapshots()
		}
	}
}

func (o *ObservationSystem) reportSnapshots() {
	o.mu.Lock()
	hasMount := o.mount != nil
	mi := o.mountInfo
	cams := make([]CameraInfo, 0, len(o.cameras))
	for cid := range o.cameras {
		if info, ok := o.cameraInfo[cid]; ok {
			cams = append(cams, info)
		}
	}
	o.mu.Unlock()

	if hasMount {
		o.reporter.MountState(o.GID, o.UID, mi)
	}
	for _, ci := range cams {
		o.reporter.CameraState(o.GID, o.UID, ci.CID, ci)
	}
}

func (o *ObservationSystem) tryAcquire() {
	o.mu.Lock()
	idle := o.phase == PhaseIdle && o.plan == nil && o.automode
	o.mu.Unlock()
	if !idle {
		return
	}
	p := o.acquire(o.GID, o.UID, time.Now())
	if p == nil || !p.Valid() {
		return
	}
	o.startPlan(p)
}

// handle dispatches one inbound event by record kind.
func (o *ObservationSystem) handle(ev Event) {
	o.mu.Lock()
	o.lastActive = time.Now()
	o.mu.Unlock()

	switch r := ev.Record.(type) {
	case *protocol.Register:
		o.handleRegister(ev, r)
	case *protocol.MountStatus:
		o.handleMountStatus(ev, r)
	case *protocol.CameraStatus:
		o.handleCameraStatus(ev, r)
	case *protocol.FocusStatus:
		// No scheduling consequence; the position is not stored.
	case *protocol.TakeImage:
		o.handleTakeImage(r)
	case *protocol.SlewTo:
		o.handleManualSlew(r)
	case *protocol.Track:
		o.handleManualTrack(r)
	case *protocol.AbortSlew:
		o.sendMount("abort-slew")
	case *protocol.AbortImage:
		o.broadcastCameras("abort-image")
	case *protocol.AbortPlan:
		o.interruptPlan("client abort")
	case *protocol.StartAuto:
		o.mu.Lock()
		o.automode = true
		o.mu.Unlock()
		o.WakeAcquisition()
	case *protocol.StopAuto:
		o.mu.Lock()
		o.automode = false
		o.mu.Unlock()
	case *protocol.Enable:
		o.mu.Lock()
		o.automode = true
		o.mu.Unlock()
		o.WakeAcquisition()
	case *protocol.Disable:
		o.mu.Lock()
		o.automode = false
		o.mu.Unlock()
	case *protocol.HomeSync:
		o.mu.Lock()
		tracking := o.mountInfo.State == MountTracking
		o.mu.Unlock()
		if !tracking {
			o.log.Printf("obssystem %s/%s: home-sync rejected: mount not tracking", o.GID, o.UID)
			return
		}
		o.sendMount("home-sync")
	case *protocol.MirrorCover:
		if r.Open {
			o.sendMount("mirror-cover-open")
		} else {
			o.sendMount("mirror-cover-close")
		}
	case *protocol.Guide:
		o.sendMount("guide")
	}
}

func (o *ObservationSystem) handleRegister(ev Event, r *protocol.Register) {
	switch ev.Role {
	case RoleMount:
		o.coupleMount(ev.Sender)
	case RoleCamera:
		o.coupleCamera(r.CID, ev.Sender)
	case RoleFocus:
		o.coupleFocus(ev.Sender)
	}
}

// coupleMount couples a mount session idempotently: recoupling the same
// session is a no-op; coupling a second one is rejected, spec.md §4.2.
func (o *ObservationSystem) coupleMount(s Sender) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mount != nil && o.mount != s {
		o.log.Printf("obssystem %s/%s: reject second mount coupling", o.GID, o.UID)
		return false
	}
	o.mount = s
	o.recomputeStateLocked()
	return true
}

func (o *ObservationSystem) coupleCamera(cid string, s Sender) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.cameras[cid]; ok && existing != s {
		o.log.Printf("obssystem %s/%s: reject second camera coupling for cid=%s", o.GID, o.UID, cid)
		return false
	}
	o.cameras[cid] = s
	if _, ok := o.cameraInfo[cid]; !ok {
		o.cameraInfo[cid] = CameraInfo{CID: cid}
	}
	o.recomputeStateLocked()
	return true
}

func (o *ObservationSystem) coupleFocus(s Sender) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.focus != nil && o.focus != s {
		return false
	}
	o.focus = s
	return true
}

// DecoupleMount, DecoupleCamera, and DecoupleFocus release a session,
// e.g. on device-lost, per spec.md §5's "posts a device-lost event".
func (o *ObservationSystem) DecoupleMount(s Sender) {
	o.mu.Lock()
	if o.mount == s {
		o.mount = nil
		o.recomputeStateLocked()
	}
	o.mu.Unlock()
	o.interruptPlan("mount lost")
}

func (o *ObservationSystem) DecoupleCamera(cid string, s Sender) {
	o.mu.Lock()
	if o.cameras[cid] == s {
		delete(o.cameras, cid)
		o.recomputeStateLocked()
	}
	o.mu.Unlock()
	o.interruptPlan("camera lost")
}

func (o *ObservationSystem) DecoupleFocus(s Sender) {
	o.mu.Lock()
	if o.focus == s {
		o.focus = nil
	}
	o.mu.Unlock()
}

// recomputeStateLocked applies spec.md §3's state invariants; callers
// must hold o.mu.
func (o *ObservationSystem) recomputeStateLocked() {
	// State itself is derived on read (State()) from automode/coupling;
	// nothing to store here beyond the coupling change already applied.
}

// State reports the composite classification from spec.md §3.
func (o *ObservationSystem) State() SystemState {
	o.mu.Lock()
	defer o.mu.Unlock()
	coupled := o.mount != nil || len(o.cameras) > 0
	if !coupled {
		return StateError
	}
	if o.automode && o.mount != nil && len(o.cameras) > 0 {
		return StateAuto
	}
	return StateManual
}

// IsAlive reports whether the system should survive the Coordinator's
// 1-minute prune sweep: either it has a coupled device, or it is still
// within its post-disconnect grace window (spec.md §3, §4.5).
func (o *ObservationSystem) IsAlive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mount != nil || len(o.cameras) > 0 || o.focus != nil {
		return true
	}
	return time.Since(o.lastActive) < defaultGrace
}

func (o *ObservationSystem) sendMount(cmd string) {
	o.mu.Lock()
	m := o.mount
	o.mu.Unlock()
	if m == nil {
		return
	}
	if err := m.Send(cmd); err != nil {
		o.log.Printf("obssystem %s/%s: mount send failed: %v", o.GID, o.UID, err)
	}
}

func (o *ObservationSystem) broadcastCameras(cmd string) {
	o.mu.Lock()
	targets := make([]Sender, 0, len(o.cameras))
	for _, s := range o.cameras {
		targets = append(targets, s)
	}
	o.mu.Unlock()
	for _, s := range targets {
		if err := s.Send(cmd); err != nil {
			o.log.Printf("obssystem %s/%s: camera send failed: %v", o.GID, o.UID, err)
		}
	}
}
