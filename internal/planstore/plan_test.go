package planstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesAddressExact(t *testing.T) {
	p := &Plan{GID: "g1", UID: "u1"}
	assert.True(t, p.MatchesAddress("g1", "u1"))
	assert.False(t, p.MatchesAddress("g1", "u2"))
	assert.False(t, p.MatchesAddress("g2", "u1"))
}

func TestMatchesAddressGroupWildcard(t *testing.T) {
	p := &Plan{GID: "", UID: "u1"}
	assert.True(t, p.MatchesAddress("g1", "u1"), "empty GID must match any group")
	assert.True(t, p.MatchesAddress("g9", "u1"))
	assert.False(t, p.MatchesAddress("g1", "u2"), "UID must still be checked")
}

func TestMatchesAddressUnitWildcard(t *testing.T) {
	p := &Plan{GID: "g1", UID: ""}
	assert.True(t, p.MatchesAddress("g1", "u1"))
	assert.True(t, p.MatchesAddress("g1", "u9"))
	assert.False(t, p.MatchesAddress("g2", "u1"), "GID must still be checked")
}

func TestMatchesAddressFullWildcard(t *testing.T) {
	p := &Plan{}
	assert.True(t, p.MatchesAddress("g1", "u1"))
	assert.True(t, p.MatchesAddress("g9", "u9"))
}

func TestStateIsTerminal(t *testing.T) {
	terminal := []State{Over, Interrupted, Delete, Abandon}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s.String())
	}
	nonTerminal := []State{Cataloged, Wait, Run}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), s.String())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Cataloged", Cataloged.String())
	assert.Equal(t, "Abandon", Abandon.String())
	assert.Equal(t, "Unknown", State(99).String())
}
