package obssystem

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/starwatch-observatory/obsd/internal/protocol"
)

// zenithRNG is a small dedicated random source for the flat-field
// azimuth/altitude pick, kept separate from any global generator so
// concurrent ObservationSystems never contend on it.
type zenithRNG struct {
	r *rand.Rand
}

func newZenithRNG() *zenithRNG {
	return &zenithRNG{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// pick implements spec.md §4.5's random zenith rule: azimuth uniform in
// [180,270) before local noon else [0,90); altitude uniform in [80,85].
func (z *zenithRNG) pick(beforeLocalNoon bool) (azi, alt float64) {
	if beforeLocalNoon {
		azi = 180 + z.r.Float64()*90
	} else {
		azi = z.r.Float64() * 90
	}
	alt = 80 + z.r.Float64()*5
	return azi, alt
}

// flatSubroutineStep implements spec.md §4.5's flat-field subroutine:
// either resume exposure without moving (within the cooldown window,
// with every exposing camera already in WaitSync) or reslew to a fresh
// random zenith position.
func (o *ObservationSystem) flatSubroutineStep() {
	o.mu.Lock()
	since := time.Since(o.lastFlat)
	exposingCount, waitSyncCount := o.info.ExposingCount, o.info.WaitSyncCount
	withinCooldown := since < flatCooldown && exposingCount > 0 && waitSyncCount == exposingCount
	o.mu.Unlock()

	if withinCooldown {
		o.broadcastCameras("expose-resume")
		return
	}

	beforeNoon := true
	if o.isLocalNoon != nil {
		beforeNoon = o.isLocalNoon()
	}
	azi, alt := o.rng.pick(beforeNoon)

	o.mu.Lock()
	o.mountInfo.Slewing = true
	o.mountInfo.TargetSys = protocol.CoorHorizontal
	o.mountInfo.TargetCoor1 = azi
	o.mountInfo.TargetCoor2 = alt
	o.phase = PhaseSlewing
	o.lastFlat = time.Now()
	o.mu.Unlock()

	o.sendMount(fmt.Sprintf("slew-to coorsys=%d,coor1=%.6f,coor2=%.6f", protocol.CoorHorizontal, azi, alt))
	o.broadcastCameras(fmt.Sprintf("orientation azi=%.6f,alt=%.6f", azi, alt))
}
