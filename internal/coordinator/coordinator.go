// Package coordinator implements the top-level dispatcher described in
// spec.md §4.6: it owns every network endpoint via internal/session,
// couples sessions to ObservationSystems, manages dome-slit state and
// retry, runs the periodic sky-regime and plan sweeps, and garbage-
// collects dead observation systems.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/starwatch-observatory/obsd/internal/astroclock"
	"github.com/starwatch-observatory/obsd/internal/domeslit"
	"github.com/starwatch-observatory/obsd/internal/obssystem"
	"github.com/starwatch-observatory/obsd/internal/planstore"
	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/starwatch-observatory/obsd/internal/session"
	"github.com/starwatch-observatory/obsd/internal/telemetry"
)

// Reporter unifies obssystem.Reporter and planstore.Reporter so the
// Coordinator can hand a single fan-out implementation to both.
type Reporter interface {
	obssystem.Reporter
	planstore.Reporter
}

// Ports configures the five listening endpoints (spec.md §6).
type Ports struct {
	Client  string
	Mount   string
	Camera  string
	Focus   string
	Annex   string
}

// SiteConfig is one group's geography and safety limit, used both by
// AstronomicalClock and the per-system elevation check.
type SiteConfig struct {
	GID            string
	LonDeg, LatDeg float64
	AltM           float64
	ElevationLimit float64
}

// Options bundles everything Coordinator needs from the caller,
// mirroring the Options-struct construction pattern used throughout
// this codebase's daemon wiring.
type Options struct {
	Logger   *log.Logger
	Ports    Ports
	Sites    []SiteConfig
	PlanRoot string
	Reporter Reporter
	Telemetry *telemetry.Hub
}

type sysKey struct{ gid, uid string }

// Coordinator is the daemon's top-level dispatcher.
type Coordinator struct {
	log       *log.Logger
	ports     Ports
	reporter  Reporter
	telemetry *telemetry.Hub

	clock *astroclock.Clock
	plans *planstore.Store
	env   *domeslit.Registry

	sitesMu sync.RWMutex
	sites   map[string]SiteConfig

	listeners []*session.Listener

	mu      sync.Mutex
	systems map[sysKey]*obssystem.ObservationSystem

	// pendingMu guards the session-provenance maps used to decouple on
	// close and to resolve which group an annex session belongs to.
	pendingMu   sync.Mutex
	deviceOwner map[string]deviceRef
	annexGID    map[string]string
	annexByGID  map[string]*session.Session

	reloadCh chan struct{}
}

// New wires together the Coordinator's dependent services but does not
// start listening; call Run for that.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		log:         opts.Logger,
		ports:       opts.Ports,
		reporter:    opts.Reporter,
		telemetry:   opts.Telemetry,
		sites:       make(map[string]SiteConfig),
		systems:     make(map[sysKey]*obssystem.ObservationSystem),
		deviceOwner: make(map[string]deviceRef),
		annexGID:    make(map[string]string),
		annexByGID:  make(map[string]*session.Session),
		reloadCh:    make(chan struct{}, 1),
	}
	c.env = domeslit.NewRegistry()
	c.plans = planstore.New(opts.Logger, opts.PlanRoot, opts.Reporter)
	c.clock = astroclock.New(opts.Logger)

	for _, s := range opts.Sites {
		c.sites[s.GID] = s
		c.clock.AddSite(astroclock.Site{GID: s.GID, LonDeg: s.LonDeg, LatDeg: s.LatDeg, AltM: s.AltM})
	}
	c.clock.OnEdge(c.onRegimeEdge)
	c.clock.OnDayEdge(c.onDayEdge)

	return c
}

// Run starts every listener and background sweep, blocking until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	specs := []struct {
		addr string
		kind session.Kind
	}{
		{c.ports.Client, session.KindClient},
		{c.ports.Mount, session.KindMount},
		{c.ports.Camera, session.KindCamera},
		{c.ports.Focus, session.KindFocus},
		{c.ports.Annex, session.KindAnnex},
	}

	for _, sp := range specs {
		if sp.addr == "" {
			continue
		}
		kind := sp.kind
		ln, err := session.Listen(c.log, sp.addr, kind, func(s *session.Session) {
			go c.handleSession(ctx, s)
		})
		if err != nil {
			return fmt.Errorf("coordinator: %w", err)
		}
		c.listeners = append(c.listeners, ln)
		go ln.Serve()
		c.log.Printf("coordinator: listening for %s on %s", kind, sp.addr)
	}

	c.plans.Load(time.Now().UTC())
	c.plans.AugmentCalibration(c.registeredGroupUnits(), time.Now().UTC())

	go c.pruneSweep(ctx)
	go c.clock.Run(ctx)
	go c.planSweep(ctx)

	<-ctx.Done()
	c.stopListeners()
	return nil
}

func (c *Coordinator) stopListeners() {
	for _, ln := range c.listeners {
		_ = ln.Stop()
	}
}

// pruneSweep stops dead ObservationSystems every minute, spec.md §4.6.
func (c *Coordinator) pruneSweep(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			for k, sys := range c.systems {
				if !sys.IsAlive() {
					sys.Stop()
					delete(c.systems, k)
					c.log.Printf("coordinator: reclaimed %s/%s", k.gid, k.uid)
				}
			}
			c.mu.Unlock()
		}
	}
}

// planSweep ticks the PlanStore's 10-minute background sweep and
// responds to explicit load-plan reload requests, spec.md §4.4/§4.6.
func (c *Coordinator) planSweep(ctx context.Context) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.plans.Sweep(time.Now().UTC())
		case <-c.reloadCh:
			c.plans.Load(time.Now().UTC())
			c.plans.AugmentCalibration(c.registeredGroupUnits(), time.Now().UTC())
			c.wakeAll()
		}
	}
}

func (c *Coordinator) onDayEdge() {
	select {
	case c.reloadCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) registeredGroupUnits() []struct{ GID, UID string } {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]struct{ GID, UID string }, 0, len(c.systems))
	for k := range c.systems {
		out = append(out, struct{ GID, UID string }{k.gid, k.uid})
	}
	return out
}

func (c *Coordinator) wakeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sys := range c.systems {
		sys.WakeAcquisition()
	}
}

func (c *Coordinator) publish(ev telemetry.Event) {
	if c.telemetry == nil {
		return
	}
	ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	c.telemetry.Publish(ev)
}

// findOrCreateSystem returns the ObservationSystem for (gid, uid),
// creating and starting one if none exists yet, per spec.md §4.6
// "find_obss".
func (c *Coordinator) findOrCreateSystem(gid, uid string) *obssystem.ObservationSystem {
	key := sysKey{gid, uid}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sys, ok := c.systems[key]; ok {
		return sys
	}

	limit := c.elevationLimit(gid)
	sys := obssystem.New(c.log, gid, uid, limit, c.acquire, c.reporter, c.isLocalNoonFunc(gid), coordinatorTrackSink{c: c})
	c.systems[key] = sys
	go sys.Run(context.Background())
	c.log.Printf("coordinator: created observation system %s/%s", gid, uid)
	return sys
}

func (c *Coordinator) elevationLimit(gid string) float64 {
	c.sitesMu.RLock()
	defer c.sitesMu.RUnlock()
	if s, ok := c.sites[gid]; ok && s.ElevationLimit > 0 {
		return s.ElevationLimit
	}
	return 20.0
}

// isLocalNoonFunc returns a closure reporting whether it is currently
// local solar morning for gid's site, per the flat-orientation
// hemisphere rule (SPEC_FULL.md SUPPLEMENTED FEATURES item 3): it is
// derived from internal/astroclock's solar ephemeris, not a bare
// wall-clock/longitude offset, so it already accounts for the equation
// of time.
func (c *Coordinator) isLocalNoonFunc(gid string) func() bool {
	return func() bool {
		c.sitesMu.RLock()
		s, ok := c.sites[gid]
		c.sitesMu.RUnlock()
		if !ok {
			return true
		}
		return astroclock.IsLocalMorning(time.Now(), s.LonDeg)
	}
}

// acquire implements obssystem.AcquireFunc by pulling the current
// domeslit/regime snapshot and delegating to the PlanStore.
func (c *Coordinator) acquire(gid, uid string, now time.Time) obssystem.Plan {
	env := c.env.Snapshot(gid)
	regime := c.clock.Regime(gid)
	p := c.plans.AcquireNewPlan(gid, uid, env, regime, now)
	if p == nil {
		return nil
	}
	return planAdapter{p: p}
}

// onRegimeEdge implements spec.md §4.3's Coordinator reaction to a sky
// regime transition: close on Day-edge, open on Flat/Night-edge
// provided rain=0 and at least one plan is pending.
func (c *Coordinator) onRegimeEdge(ev astroclock.EdgeEvent) {
	c.env.ResetRetries(ev.GID)
	c.publish(telemetry.Event{Type: "regime-edge", GID: ev.GID, Data: map[string]string{"from": ev.From.String(), "to": ev.To.String()}})

	switch ev.To {
	case astroclock.RegimeDay:
		c.commandSlit(ev.GID, domeslit.CmdClose)
	case astroclock.RegimeFlat, astroclock.RegimeNight:
		env := c.env.Snapshot(ev.GID)
		if env.Rain == 0 && c.hasPendingPlan(ev.GID) {
			c.commandSlit(ev.GID, domeslit.CmdOpen)
		}
	}
}

func (c *Coordinator) hasPendingPlan(gid string) bool {
	for _, p := range c.plans.Plans() {
		if p.GID == gid && p.State == planstore.Cataloged {
			return true
		}
	}
	return false
}

// commandSlit sends cmd to gid's dome session if ShouldSend allows it,
// applying the no-op filter and retry cap from spec.md §5.
func (c *Coordinator) commandSlit(gid string, cmd domeslit.Command) {
	if !c.env.ShouldSend(gid, cmd) {
		return
	}
	c.env.RecordSent(gid, cmd)
	c.publish(telemetry.Event{Type: "slit-command", GID: gid, Data: map[string]string{"command": cmd.String()}})

	annex := c.findAnnexSession(gid)
	if annex == nil {
		c.log.Printf("coordinator: no annex session for group %s, cannot send slit command", gid)
		return
	}
	line := protocol.EncodeAnnexSlitCommand(gid, "", int(cmd))
	if err := annex.Send(line); err != nil {
		c.log.Printf("coordinator: slit command to %s failed: %v", gid, err)
	}
}
