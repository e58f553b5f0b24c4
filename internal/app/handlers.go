package app

import (
	"encoding/json"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Introspection handlers — spec.md §1 scopes the core dispatch loop only;
// these read-only endpoints exist purely so operators and obsctl can see
// what the Coordinator is doing.
// ---------------------------------------------------------------------------

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "obsd",
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"plan_root":      a.cfg.ObsPlan.Root,
		"site_count":     len(a.cfg.Sites.Sites),
		"system_count":   len(a.coord.Systems()),
	}
	if du := diskUsage(a.cfg.ObsPlan.Root); du != nil {
		resp["disk"] = du
	}
	if a.ntp != nil {
		resp["ntp_offset_ms"] = a.ntp.Offset().Milliseconds()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSystems lists every ObservationSystem the Coordinator tracks
// (spec.md §2), for operators to see which (gid,uid) pairs are coupled
// and what phase/automode they are in.
func (a *App) handleSystems(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"systems": a.coord.Systems()})
}

// handlePlans lists the PlanStore's current plan set (spec.md §3/§4.4).
func (a *App) handlePlans(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"plans": a.coord.Plans()})
}

// handleEnvironments lists every configured group's dome-slit/rain/
// sky-regime snapshot (spec.md §4.2/§4.3).
func (a *App) handleEnvironments(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"environments": a.coord.Environments()})
}

// handleReload forces an immediate plan-directory reload, the same
// effect a client's load-plan protocol message has (spec.md §4.6), for
// obsctl's `reload` subcommand.
func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.coord.ForceReload()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}
