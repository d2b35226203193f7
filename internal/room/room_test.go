package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPlayerRoom() Snapshot {
	return Snapshot{
		ID:     "room-id",
		Code:   "ROOM12",
		Status: StatusLobby,
		Players: []PlayerSummary{
			{ID: "host", Name: "Ada", Emoji: "🦊", IsHost: true},
			{ID: "guest", Name: "Grace", Emoji: "🐙"},
		},
		Version: 3,
	}
}

func TestNextPhaseCycles(t *testing.T) {
	var p *Phase
	var seen []Phase
	for i := 0; i < 4; i++ {
		p = NextPhase(p)
		require.NotNil(t, p)
		seen = append(seen, *p)
	}
	assert.Equal(t, []Phase{PhaseBigIdea, PhaseVisual, PhaseHeadline, PhasePitch}, seen)
	assert.Nil(t, NextPhase(p), "pitch wraps back to no phase")
}

func TestSetReadyBumpsVersionByOne(t *testing.T) {
	s := twoPlayerRoom()
	next, ok := SetReady(s, "guest", true)
	require.True(t, ok)
	assert.Equal(t, s.Version+1, next.Version)
	p, _ := FindPlayer(next, "guest")
	assert.True(t, p.IsReady)
	// input untouched
	p, _ = FindPlayer(s, "guest")
	assert.False(t, p.IsReady)
}

func TestSetReadyUnknownPlayerIsNoOp(t *testing.T) {
	s := twoPlayerRoom()
	next, ok := SetReady(s, "nobody", true)
	assert.False(t, ok)
	assert.Equal(t, s.Version, next.Version, "no-op must not bump version")
}

func TestClearReadyOnlyAppliesWhenReady(t *testing.T) {
	s := twoPlayerRoom()
	s.Players[1].IsReady = true

	next, ok := ClearReady(s, "guest")
	require.True(t, ok)
	assert.Equal(t, s.Version+1, next.Version)

	again, ok := ClearReady(next, "guest")
	assert.False(t, ok)
	assert.Equal(t, next.Version, again.Version)
}

func TestAdvancePhaseResetsAllReadyFlags(t *testing.T) {
	s := twoPlayerRoom()
	s.Players[0].IsReady = true
	s.Players[1].IsReady = true
	now := time.Now()

	next := AdvancePhase(s, now)
	assert.Equal(t, s.Version+1, next.Version)
	require.NotNil(t, next.CurrentPhase)
	assert.Equal(t, PhaseBigIdea, *next.CurrentPhase)
	require.NotNil(t, next.PhaseStartTime)
	assert.True(t, next.PhaseStartTime.Equal(now))
	for _, p := range next.Players {
		assert.False(t, p.IsReady, "player %s should be unready after phase advance", p.ID)
	}
}

func TestSetStatusOverwritesPhaseFields(t *testing.T) {
	s := twoPlayerRoom()
	phase := PhaseVisual
	now := time.Now()

	next := SetStatus(s, StatusCreating, &phase, now)
	assert.Equal(t, StatusCreating, next.Status)
	require.NotNil(t, next.CurrentPhase)
	assert.Equal(t, PhaseVisual, *next.CurrentPhase)
	assert.Equal(t, s.Version+1, next.Version)

	cleared := SetStatus(next, StatusResults, nil, now)
	assert.Nil(t, cleared.CurrentPhase)
}

func TestUpsertPlayerKeepsJoinOrder(t *testing.T) {
	s := twoPlayerRoom()
	next := UpsertPlayer(s, PlayerSummary{ID: "third", Name: "Alan"})
	require.Len(t, next.Players, 3)
	assert.Equal(t, "third", next.Players[2].ID)
	assert.Equal(t, s.Version+1, next.Version)

	renamed := UpsertPlayer(next, PlayerSummary{ID: "host", Name: "Ada L", IsHost: true})
	require.Len(t, renamed.Players, 3)
	assert.Equal(t, "Ada L", renamed.Players[0].Name, "update keeps position")
}

func TestCloneIsDeep(t *testing.T) {
	s := twoPlayerRoom()
	phase := PhaseHeadline
	s.CurrentPhase = &phase

	c := Clone(s)
	c.Players[0].Name = "changed"
	*c.CurrentPhase = PhasePitch

	assert.Equal(t, "Ada", s.Players[0].Name)
	assert.Equal(t, PhaseHeadline, *s.CurrentPhase)
}

func TestMissingPlayers(t *testing.T) {
	prev := twoPlayerRoom()
	next := UpsertPlayer(prev, PlayerSummary{ID: "third"})

	diff := MissingPlayers(prev, next)
	require.Len(t, diff, 1)
	assert.Equal(t, "third", diff[0].ID)
	assert.Empty(t, MissingPlayers(next, prev))
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"lobby", "briefing", "creating", "presenting", "voting", "results"} {
		_, ok := ParseStatus(valid)
		assert.True(t, ok, valid)
	}
	_, ok := ParseStatus("intermission")
	assert.False(t, ok)
}

func TestVersionMonotonicAcrossMixedMutations(t *testing.T) {
	s := twoPlayerRoom()
	versions := []int{s.Version}

	s, _ = SetReady(s, "host", true)
	versions = append(versions, s.Version)
	s = AdvancePhase(s, time.Now())
	versions = append(versions, s.Version)
	s = Touch(s)
	versions = append(versions, s.Version)
	s = UpsertPlayer(s, PlayerSummary{ID: "p4"})
	versions = append(versions, s.Version)
	s = SetStatus(s, StatusVoting, nil, time.Now())
	versions = append(versions, s.Version)

	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i], "step %d", i)
	}
}
