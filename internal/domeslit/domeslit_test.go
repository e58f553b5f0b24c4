package domeslit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCreatesUnknownEnv(t *testing.T) {
	r := NewRegistry()
	env := r.Snapshot("g1")
	assert.Equal(t, "g1", env.GID)
	assert.Equal(t, Unknown, env.Slit)
	assert.Equal(t, 0, env.Rain)
}

func TestSetSlitResetsRetriesOnChange(t *testing.T) {
	r := NewRegistry()
	r.SetSlit("g1", Freeze)
	r.RecordSent("g1", CmdOpen)
	r.RecordSent("g1", CmdOpen)
	r.RecordSent("g1", CmdOpen)
	assert.False(t, r.ShouldSend("g1", CmdOpen), "should be suppressed after MaxRetries identical sends")

	// An observed state change resets the retry counter, so the command
	// is allowed again once the slit responds.
	r.SetSlit("g1", Error)
	r.SetSlit("g1", Freeze)
	assert.True(t, r.ShouldSend("g1", CmdOpen))
}

func TestShouldSendNoOpFilter(t *testing.T) {
	r := NewRegistry()
	r.SetSlit("g1", Open)
	assert.False(t, r.ShouldSend("g1", CmdOpen))
	assert.True(t, r.ShouldSend("g1", CmdClose))

	r.SetSlit("g1", Opening)
	assert.False(t, r.ShouldSend("g1", CmdOpen))

	r.SetSlit("g1", Closed)
	assert.False(t, r.ShouldSend("g1", CmdClose))

	r.SetSlit("g1", Closing)
	assert.False(t, r.ShouldSend("g1", CmdClose))
}

func TestShouldSendRetryCap(t *testing.T) {
	r := NewRegistry()
	r.SetSlit("g1", Freeze) // neutral state, doesn't filter either command

	for i := 0; i < MaxRetries; i++ {
		assert.True(t, r.ShouldSend("g1", CmdOpen), "send %d should be allowed", i+1)
		r.RecordSent("g1", CmdOpen)
	}
	assert.False(t, r.ShouldSend("g1", CmdOpen), "send beyond MaxRetries must be suppressed")

	// A regime edge resets the counter.
	r.ResetRetries("g1")
	assert.True(t, r.ShouldSend("g1", CmdOpen))
}

func TestRecordSentTracksRepeatsVsSwitches(t *testing.T) {
	r := NewRegistry()
	r.RecordSent("g1", CmdOpen)
	r.RecordSent("g1", CmdOpen)
	env := r.Snapshot("g1")
	assert.Equal(t, 2, env.retries)

	r.RecordSent("g1", CmdClose)
	env = r.Snapshot("g1")
	assert.Equal(t, 1, env.retries, "switching commands restarts the retry count")
}

func TestSetRainReportsClearedTransition(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SetRain("g1", 0), "clear to clear is not a transition")
	assert.False(t, r.SetRain("g1", 3), "clear to rainy is not a cleared transition")
	assert.True(t, r.SetRain("g1", 0), "rainy to clear is a cleared transition")
	assert.False(t, r.SetRain("g1", 0), "clear to clear again is not a transition")
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "Close", CmdClose.String())
	assert.Equal(t, "Open", CmdOpen.String())
	assert.Equal(t, "Stop", CmdStop.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Unknown", Unknown.String())
	assert.Equal(t, "Error", Error.String())
	assert.Equal(t, "Opening", Opening.String())
	assert.Equal(t, "Open", Open.String())
	assert.Equal(t, "Closing", Closing.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Freeze", Freeze.String())
}
