package planstore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/starwatch-observatory/obsd/internal/astroclock"
	"github.com/starwatch-observatory/obsd/internal/domeslit"
)

// CalibrationWindow is the lifetime given to a synthesized flat-field
// plan, per spec.md §4.4.
const CalibrationWindow = 20 * time.Hour

// CalibrationExpDur and CalibrationFrameCount are the synthesized
// flat-field plan's exposure parameters (spec.md §4.4).
const (
	CalibrationExpDur     = 5.0
	CalibrationFrameCount = 20
)

// lateSelectionWindow and earlySelectionWindow bound a plan's start
// window eligibility test in AcquireNewPlan (spec.md §4.4).
const (
	lateSelectionWindow  = 60 * time.Second
	earlySelectionWindow = 10 * time.Second
)

// abandonGrace is the margin before etime inside which the background
// sweep abandons a still-Cataloged plan (spec.md §4.4).
const abandonGrace = 20 * time.Second

// Reporter receives fire-and-forget plan lifecycle notifications. The
// database reporter in internal/notify implements this; tests can pass
// a no-op.
type Reporter interface {
	PlanAbandoned(p *Plan)
}

// Store owns the full set of loaded plans under a single lock, matching
// spec.md §5 ("PlanStore's plan vector: guarded by a single lock").
type Store struct {
	log      *log.Logger
	planRoot string
	reporter Reporter

	mu    sync.Mutex
	plans []*Plan
}

// New creates a Store rooted at planRoot (spec.md §6 "plan root directory").
func New(logger *log.Logger, planRoot string, reporter Reporter) *Store {
	return &Store{
		log:      logger,
		planRoot: planRoot,
		reporter: reporter,
	}
}

// Load scans <planRoot>/<YYYYMMDD>/ for the given date, replacing the
// in-memory plan set, per spec.md §4.4. Parse errors on individual
// lines or files are logged and skipped, never fatal.
func (s *Store) Load(date time.Time) {
	dir := filepath.Join(s.planRoot, date.UTC().Format("20060102"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Printf("planstore: scan %s: %v", dir, err)
		s.mu.Lock()
		s.plans = nil
		s.mu.Unlock()
		return
	}

	var loaded []*Plan
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		plans, errs := ParseFile(path)
		for _, e := range errs {
			s.log.Printf("planstore: %v", e)
		}
		loaded = append(loaded, plans...)
	}

	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].BTime.Before(loaded[j].BTime) })

	s.mu.Lock()
	s.plans = loaded
	s.mu.Unlock()
}

// AugmentCalibration appends one synthetic Flat plan per currently
// registered group:unit (spec.md §4.4 "Calibration augmentation").
func (s *Store) AugmentCalibration(groupUnits []struct{ GID, UID string }, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gu := range groupUnits {
		s.plans = append(s.plans, &Plan{
			GID: gu.GID, UID: gu.UID,
			PlanSN:     fmt.Sprintf("calib-%s-%s-%d", gu.GID, gu.UID, now.UnixNano()),
			Type:       PlanPoint,
			ImageType:  ImageFlat,
			BTime:      now,
			ETime:      now.Add(CalibrationWindow),
			ExpDur:     CalibrationExpDur,
			FrameCount: CalibrationFrameCount,
			State:      Cataloged,
		})
	}
	s.resortLocked()
}

// Resort re-sorts the plan set ascending by btime (spec.md §4.4).
func (s *Store) Resort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resortLocked()
}

func (s *Store) resortLocked() {
	sort.SliceStable(s.plans, func(i, j int) bool { return s.plans[i].BTime.Before(s.plans[j].BTime) })
}

// regimePermits implements spec.md §4.4's slit+regime compatibility and
// per-imageType regime filter.
func regimePermits(env domeslit.Env, regime astroclock.Regime, imageType ImageType) bool {
	switch regime {
	case astroclock.RegimeDay:
		if env.Slit != domeslit.Closed {
			return false
		}
		return imageType != ImageObject && imageType != ImageFlat
	case astroclock.RegimeFlat:
		if env.Slit != domeslit.Open {
			return false
		}
		return imageType == ImageFlat
	case astroclock.RegimeNight:
		if env.Slit != domeslit.Open {
			return false
		}
		return imageType >= ImageObject
	default:
		return false
	}
}

// AcquireNewPlan selects and returns the next eligible plan for
// (gid, uid), transitioning it Cataloged -> Wait, per spec.md §4.4.
// Returns nil if no plan qualifies. env and regime must be well-defined
// (slit != Unknown, regime != RegimeUnknown) or selection fails.
func (s *Store) AcquireNewPlan(gid, uid string, env domeslit.Env, regime astroclock.Regime, now time.Time) *Plan {
	if env.Slit == domeslit.Unknown || regime == astroclock.RegimeUnknown {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.plans {
		if p.State != Cataloged {
			continue
		}
		if !p.MatchesAddress(gid, uid) {
			continue
		}
		if !regimePermits(env, regime, p.ImageType) {
			continue
		}
		if p.ImageType > ImageDark {
			untilStart := p.BTime.Sub(now)
			untilEnd := p.ETime.Sub(now)
			if untilStart > lateSelectionWindow || untilEnd < earlySelectionWindow {
				continue
			}
		}
		p.State = Wait
		return p
	}
	return nil
}

// Sweep removes terminal plans and abandons Cataloged plans whose
// etime is within abandonGrace of now or past, per spec.md §4.4's
// 10-minute background tick.
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.plans[:0]
	for _, p := range s.plans {
		if p.State.IsTerminal() {
			continue
		}
		if p.State == Cataloged && p.ETime.Sub(now) < abandonGrace {
			p.State = Abandon
			s.log.Printf("planstore: abandoning plan %s (%s/%s): past window", p.PlanSN, p.GID, p.UID)
			if s.reporter != nil {
				s.reporter.PlanAbandoned(p)
			}
			continue
		}
		kept = append(kept, p)
	}
	s.plans = kept
}

// Plans returns a snapshot copy of the current plan set, for inspection
// and tests.
func (s *Store) Plans() []*Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Plan, len(s.plans))
	copy(out, s.plans)
	return out
}
