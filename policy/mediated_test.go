package policy

import (
	"testing"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediated_SingleHumanAlternation(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1")

	events := testutil.MessageLog("c1", "u1")
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, core.AssistantID, state.NextSpeakerID)

	events = testutil.MessageLog("c1", "u1", core.AssistantID)
	state = p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
	assert.Equal(t, core.RoleHuman, state.NextRole)
}

func TestMediated_StrictRotationWithTwoHumans(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2")

	// u1 -> assistant: the floor rotates past u1 to u2.
	events := testutil.MessageLog("c1", "u1", core.AssistantID)
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u2", state.NextSpeakerID)

	// u1 -> assistant -> u2 -> assistant: back to u1, never u2 twice in a
	// row without an intervening assistant turn.
	events = testutil.MessageLog("c1", "u1", core.AssistantID, "u2", core.AssistantID)
	state = p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
}

func TestMediated_RotationAnchorsOnLastHumanSpeaker(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2", "u3")

	// The assistant answered u2, so u3 speaks next even though u1 created
	// the conversation.
	events := testutil.MessageLog("c1", "u1", core.AssistantID, "u2", core.AssistantID)
	state := p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u3", state.NextSpeakerID)

	// Rotation wraps around to the first human.
	events = testutil.MessageLog("c1", "u3", core.AssistantID)
	state = p.CalculateNextTurn(events, roster)
	assert.Equal(t, "u1", state.NextSpeakerID)
}

func TestMediated_FirstMessageException(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2")

	state := p.InitializeFirstTurn(roster)
	require.Equal(t, "u1", state.NextSpeakerID)

	// Even though initialization names u1, any human may send the very
	// first message.
	assert.True(t, p.CanSpeak("u2", state, nil, roster))
	assert.True(t, p.CanSpeak("u1", state, nil, roster))
	assert.False(t, p.CanSpeak(core.AssistantID, state, nil, roster))
	assert.False(t, p.CanSpeak("stranger", state, nil, roster))
}

func TestMediated_OutOfTurnRejectedAfterFirstMessage(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2")

	events := testutil.MessageLog("c1", "u1")
	state := p.CalculateNextTurn(events, roster)
	require.Equal(t, core.AssistantID, state.NextSpeakerID)

	assert.False(t, p.CanSpeak("u2", state, events, roster))
	assert.False(t, p.CanSpeak("u1", state, events, roster))
	assert.True(t, p.CanSpeak(core.AssistantID, state, events, roster))
}

func TestMediated_UnknownSenderFallsBackDeterministically(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2")

	events := testutil.MessageLog("c1", "ghost")
	first := p.CalculateNextTurn(events, roster)
	second := p.CalculateNextTurn(events, roster)
	assert.Equal(t, first, second)
	assert.Equal(t, "u1", first.NextSpeakerID)
}

func TestMediated_Determinism(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1", "u2", "u3")
	events := testutil.MessageLog("c1", "u1", core.AssistantID, "u2", core.AssistantID, "u3")

	first := p.CalculateNextTurn(events, roster)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.CalculateNextTurn(events, roster))
	}
}

func TestMediated_TriggerPredicate(t *testing.T) {
	p := ForMode(core.ModeMediated)
	roster := testutil.RosterWithHumans("u1")

	assert.False(t, p.ShouldTriggerAssistant(nil, roster))
	assert.True(t, p.ShouldTriggerAssistant(testutil.MessageLog("c1", "u1"), roster))
	assert.False(t, p.ShouldTriggerAssistant(testutil.MessageLog("c1", "u1", core.AssistantID), roster))
}
