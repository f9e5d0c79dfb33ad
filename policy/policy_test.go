package policy

import (
	"testing"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForMode_SelectsPolicies(t *testing.T) {
	modes := []core.TurnPolicyMode{
		core.ModeFlexible, core.ModeStrict, core.ModeRounds, core.ModeModerated, core.ModeMediated,
	}
	for _, mode := range modes {
		assert.Equal(t, mode, ForMode(mode).Mode())
	}
	// Unknown modes degrade to the default instead of failing.
	assert.Equal(t, core.ModeMediated, ForMode("bogus").Mode())
}

func TestFlexible_AnyoneAnytime(t *testing.T) {
	p := ForMode(core.ModeFlexible)
	roster := testutil.RosterWithHumans("u1", "u2")
	events := testutil.MessageLog("c1", "u1", core.AssistantID, "u2")

	state := p.InitializeFirstTurn(roster)
	assert.True(t, state.Open())
	assert.True(t, p.CanSpeak("u1", state, events, roster))
	assert.True(t, p.CanSpeak("u2", state, events, roster))
	assert.False(t, p.CanSpeak("stranger", state, events, roster))
	assert.True(t, p.ShouldTriggerAssistant(events, roster))
	assert.False(t, p.PersistsState())
}

func TestStrict_RoundRobinNoSkipping(t *testing.T) {
	p := ForMode(core.ModeStrict)
	// Roster order: assistant, u1, u2.
	roster := testutil.RosterWithHumans("u1", "u2")

	events := testutil.MessageLog("c1", "u1")
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u2", state.NextSpeakerID)

	events = testutil.MessageLog("c1", "u1", "u2")
	state = p.CalculateNextTurn(events, roster)
	assert.Equal(t, core.AssistantID, state.NextSpeakerID)
	assert.True(t, p.ShouldTriggerAssistant(events, roster))

	// Assistant spoke, rotation wraps to the top of the roster.
	events = testutil.MessageLog("c1", "u1", "u2", core.AssistantID)
	state = p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
}

func TestRounds_AssistantWaitsForFullRound(t *testing.T) {
	p := ForMode(core.ModeRounds)
	roster := testutil.RosterWithHumans("u1", "u2", "u3")

	// After the 1st and 2nd human the assistant stays quiet.
	assert.False(t, p.ShouldTriggerAssistant(testutil.MessageLog("c1", "u1"), roster))
	assert.False(t, p.ShouldTriggerAssistant(testutil.MessageLog("c1", "u1", "u3"), roster))

	// After the 3rd human the round is complete.
	full := testutil.MessageLog("c1", "u1", "u3", "u2")
	assert.True(t, p.ShouldTriggerAssistant(full, roster))
	assert.Equal(t, core.AssistantID, p.CalculateNextTurn(full, roster).NextSpeakerID)

	// The assistant's reply opens a fresh round.
	next := testutil.MessageLog("c1", "u1", "u3", "u2", core.AssistantID)
	assert.False(t, p.ShouldTriggerAssistant(next, roster))
	state := p.CalculateNextTurn(next, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
}

func TestRounds_HumansSpeakOncePerRound(t *testing.T) {
	p := ForMode(core.ModeRounds)
	roster := testutil.RosterWithHumans("u1", "u2")

	events := testutil.MessageLog("c1", "u1")
	state := p.CalculateNextTurn(events, roster)
	require.Equal(t, "u2", state.NextSpeakerID)

	// u1 already spoke this round; u2 has not.
	assert.False(t, p.CanSpeak("u1", state, events, roster))
	assert.True(t, p.CanSpeak("u2", state, events, roster))
}

func TestModerated_LeastActiveHumanGetsTheFloor(t *testing.T) {
	p := ForMode(core.ModeModerated)
	roster := testutil.RosterWithHumans("u1", "u2", "u3")

	// u1 spoke twice, u2 once, u3 never: after the assistant, u3 is up.
	events := testutil.MessageLog("c1", "u1", core.AssistantID, "u2", core.AssistantID, "u1", core.AssistantID)
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u3", state.NextSpeakerID)
}

func TestModerated_TiesBreakByRosterOrder(t *testing.T) {
	p := ForMode(core.ModeModerated)
	roster := testutil.RosterWithHumans("u1", "u2")

	// Nobody has spoken besides the exchange below; u1 and u2 are tied at
	// one message each, so roster order wins.
	events := testutil.MessageLog("c1", "u1", core.AssistantID, "u2", core.AssistantID)
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
}
