package coordinator

import (
	"github.com/starwatch-observatory/obsd/internal/planstore"
)

// SystemSnapshot is a read-only view of one ObservationSystem, for the
// operational introspection endpoint internal/app exposes and obsctl
// reads (neither is part of the §1 core dispatch subsystem).
type SystemSnapshot struct {
	GID, UID string
	State    string
	Alive    bool
}

// Systems returns a snapshot of every ObservationSystem the Coordinator
// currently tracks.
func (c *Coordinator) Systems() []SystemSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SystemSnapshot, 0, len(c.systems))
	for k, sys := range c.systems {
		out = append(out, SystemSnapshot{
			GID: k.gid, UID: k.uid,
			State: sys.State().String(),
			Alive: sys.IsAlive(),
		})
	}
	return out
}

// Plans returns a snapshot of the PlanStore's current plan set.
func (c *Coordinator) Plans() []*planstore.Plan {
	return c.plans.Plans()
}

// EnvironmentSnapshot returns gid's dome-slit/rain/regime snapshot.
type EnvironmentSnapshot struct {
	GID    string
	Slit   string
	Rain   int
	Regime string
}

// Environments returns a snapshot of every configured group's dome
// environment, for introspection.
func (c *Coordinator) Environments() []EnvironmentSnapshot {
	c.sitesMu.RLock()
	gids := make([]string, 0, len(c.sites))
	for gid := range c.sites {
		gids = append(gids, gid)
	}
	c.sitesMu.RUnlock()

	out := make([]EnvironmentSnapshot, 0, len(gids))
	for _, gid := range gids {
		env := c.env.Snapshot(gid)
		out = append(out, EnvironmentSnapshot{
			GID:    gid,
			Slit:   env.Slit.String(),
			Rain:   env.Rain,
			Regime: c.clock.Regime(gid).String(),
		})
	}
	return out
}

// ForceReload signals the PlanStore/AstronomicalClock to reload plans on
// the next tick, the same effect a client's load-plan protocol has
// (spec.md §4.6), for the obsctl `reload` command.
func (c *Coordinator) ForceReload() {
	c.onDayEdge()
}
