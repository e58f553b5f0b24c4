package coordinator

import (
	"context"
	"errors"
	"io"

	"github.com/starwatch-observatory/obsd/internal/astroclock"
	"github.com/starwatch-observatory/obsd/internal/domeslit"
	"github.com/starwatch-observatory/obsd/internal/obssystem"
	"github.com/starwatch-observatory/obsd/internal/protocol"
	"github.com/starwatch-observatory/obsd/internal/session"
	"github.com/starwatch-observatory/obsd/internal/telemetry"
)

// senderAdapter satisfies obssystem.Sender over a *session.Session.
type senderAdapter struct{ s *session.Session }

func (a senderAdapter) Send(line string) error { return a.s.Send(line) }

// handleSession is the per-accepted-connection reader loop, spec.md
// §5's "one reader task per accepted TCP session". It decodes with the
// codec appropriate to the session's kind and dispatches every record,
// closing the session on any transport or protocol fault.
func (c *Coordinator) handleSession(ctx context.Context, s *session.Session) {
	defer c.onSessionClosed(s)

	decode := protocol.DecodeKV
	if s.Kind == session.KindAnnex {
		decode = protocol.DecodeAnnex
	}

	for {
		rec, err := s.Next(decode)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Printf("coordinator: session %s (%s) fault: %v", s.ID, s.Kind, err)
			}
			_ = s.Close()
			return
		}
		c.route(s, rec)
	}
}

// route dispatches one decoded record according to the session kind it
// arrived on, per spec.md §4.2/§4.6.
func (c *Coordinator) route(s *session.Session, rec protocol.Record) {
	switch s.Kind {
	case session.KindMount:
		c.routeDevice(s, rec, obssystem.RoleMount)
	case session.KindCamera:
		c.routeDevice(s, rec, obssystem.RoleCamera)
	case session.KindFocus:
		c.routeDevice(s, rec, obssystem.RoleFocus)
	case session.KindAnnex:
		c.routeAnnex(s, rec)
	default:
		c.routeClient(s, rec)
	}
}

// routeDevice couples mount/camera/focus sessions on register/status
// and forwards every record to the addressed ObservationSystem's
// inbound queue, per spec.md §4.2.
func (c *Coordinator) routeDevice(s *session.Session, rec protocol.Record, role obssystem.Role) {
	addr := rec.Addr()
	if addr.GID == "" || addr.UID == "" {
		c.log.Printf("coordinator: device session %s sent unaddressed %s, closing", s.ID, rec.Kind())
		_ = s.Close()
		return
	}

	c.trackDeviceSession(s, addr.GID, addr.UID, addr.CID, role)

	sys := c.findOrCreateSystem(addr.GID, addr.UID)
	ev := obssystem.Event{Record: rec, Role: role, SessionID: s.ID, Sender: senderAdapter{s}}
	if !sys.Post(ev) {
		c.log.Printf("coordinator: inbound queue full for %s/%s, closing session %s", addr.GID, addr.UID, s.ID)
		_ = s.Close()
	}
}

// routeClient implements spec.md §4.6's client-protocol dispatch table.
func (c *Coordinator) routeClient(s *session.Session, rec protocol.Record) {
	switch r := rec.(type) {
	case *protocol.StartAuto, *protocol.StopAuto:
		c.broadcastMatching(rec.Addr(), rec, obssystem.RoleClient)
	case *protocol.LoadPlan:
		c.onDayEdge()
	case *protocol.Slit:
		c.commandSlit(r.GID, domeslit.Command(r.Command))
	default:
		c.broadcastMatching(rec.Addr(), rec, obssystem.RoleClient)
	}
}

// broadcastMatching enqueues rec to every ObservationSystem whose
// (gid,uid) matches addr, per the three-way match in spec.md §3.
func (c *Coordinator) broadcastMatching(addr protocol.Address, rec protocol.Record, role obssystem.Role) {
	c.mu.Lock()
	targets := make([]*obssystem.ObservationSystem, 0, len(c.systems))
	for k, sys := range c.systems {
		if addr.Match(k.gid, k.uid) != protocol.NoMatch {
			targets = append(targets, sys)
		}
	}
	c.mu.Unlock()

	for _, sys := range targets {
		sys.Post(obssystem.Event{Record: rec, Role: role})
	}
}

// routeAnnex applies annex messages (rain, dome-slit status) to
// EnvironmentInfo and reacts per spec.md §4.6. Slit/focus/fwhm messages
// carry an explicit gid; a bare rain reading does not (spec.md §6), so
// the session's gid is learned from the first addressed message it
// carries and remembered for subsequent rain readings.
func (c *Coordinator) routeAnnex(s *session.Session, rec protocol.Record) {
	switch r := rec.(type) {
	case *protocol.Slit:
		c.registerAnnexGID(s, r.GID)
		c.env.SetSlit(r.GID, domeslit.State(r.State))

	case *protocol.FocusStatus:
		c.registerAnnexGID(s, r.GID)
		c.broadcastMatching(r.Addr(), rec, obssystem.RoleFocus)

	case *protocol.Fwhm:
		c.registerAnnexGID(s, r.GID)
		c.publish(telemetry.Event{Type: "fwhm", GID: r.GID, UID: r.UID, Data: map[string]any{"cid": r.CID, "pixels": r.Value}})

	case *protocol.Rain:
		gid := c.annexGIDForSession(s)
		if gid == "" {
			return
		}
		cleared := c.env.SetRain(gid, r.Value)
		c.publish(telemetry.Event{Type: "rain", GID: gid, Data: map[string]int{"value": r.Value}})
		if cleared {
			regime := c.clock.Regime(gid)
			if (regime == astroclock.RegimeFlat || regime == astroclock.RegimeNight) && c.hasPendingPlan(gid) {
				c.commandSlit(gid, domeslit.CmdOpen)
			}
		}
	}
}

// annexGIDForSession resolves which group an annex session belongs to,
// or "" if no addressed message has been seen on it yet.
func (c *Coordinator) annexGIDForSession(s *session.Session) string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.annexGID[s.ID]
}

// registerAnnexGID associates an annex session with gid the first time
// an addressed message is seen on it.
func (c *Coordinator) registerAnnexGID(s *session.Session, gid string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.annexGID[s.ID] = gid
	c.annexByGID[gid] = s
}

func (c *Coordinator) findAnnexSession(gid string) *session.Session {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.annexByGID[gid]
}

// trackDeviceSession records which ObservationSystem owns s so a later
// close can decouple it, spec.md §5 "Session close is authoritative".
func (c *Coordinator) trackDeviceSession(s *session.Session, gid, uid, cid string, role obssystem.Role) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.deviceOwner[s.ID] = deviceRef{gid: gid, uid: uid, cid: cid, role: role}
}

type deviceRef struct {
	gid, uid, cid string
	role          obssystem.Role
}

// onSessionClosed decouples the device the session was last known to
// serve, if any, and propagates device-lost, per spec.md §5.
func (c *Coordinator) onSessionClosed(s *session.Session) {
	c.pendingMu.Lock()
	ref, ok := c.deviceOwner[s.ID]
	delete(c.deviceOwner, s.ID)
	if gid, isAnnex := c.annexGID[s.ID]; isAnnex {
		delete(c.annexGID, s.ID)
		if c.annexByGID[gid] == s {
			delete(c.annexByGID, gid)
		}
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}
	c.mu.Lock()
	sys, exists := c.systems[sysKey{ref.gid, ref.uid}]
	c.mu.Unlock()
	if !exists {
		return
	}

	adapter := senderAdapter{s}
	switch ref.role {
	case obssystem.RoleMount:
		sys.DecoupleMount(adapter)
	case obssystem.RoleCamera:
		sys.DecoupleCamera(ref.cid, adapter)
	case obssystem.RoleFocus:
		sys.DecoupleFocus(adapter)
	}
}
