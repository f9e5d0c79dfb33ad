package policy

import "github.com/convoq/convoq/core"

// Rounds lets humans speak in any order within a round, and the assistant
// speaks only once every human has spoken in the round. An assistant message
// closes the round and opens the next one.
type Rounds struct {
	base
}

// Mode implements TurnPolicy.
func (*Rounds) Mode() core.TurnPolicyMode { return core.ModeRounds }

// InitializeFirstTurn implements TurnPolicy.
func (p *Rounds) InitializeFirstTurn(roster core.Roster) core.TurnState {
	return p.fallbackFirst(roster)
}

// CalculateNextTurn implements TurnPolicy. The reported next speaker is the
// first human (roster order) who has not yet spoken in the current round;
// once the round is complete the assistant holds the floor.
func (p *Rounds) CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState {
	humans := roster.Humans()
	if len(humans) == 0 {
		return core.TurnState{}
	}
	if _, any := core.LastMessage(events); !any {
		return p.InitializeFirstTurn(roster)
	}
	spoken := humansSpokenSince(events, roster)
	for _, h := range humans {
		if !spoken[h.ID] {
			return turnFor(h)
		}
	}
	return assistantTurn()
}

// CanSpeak implements TurnPolicy. Any human who has not spoken in the
// current round may take the floor, regardless of which of them the computed
// state happens to name.
func (p *Rounds) CanSpeak(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool {
	part, ok := roster.ByID(userID)
	if !ok {
		return false
	}
	if _, any := core.LastMessage(events); !any {
		return part.Role.IsHuman()
	}
	if part.ID == core.AssistantID {
		return state.NextSpeakerID == core.AssistantID
	}
	if !part.Role.IsHuman() {
		return false
	}
	if state.NextSpeakerID == core.AssistantID {
		return false
	}
	return !humansSpokenSince(events, roster)[userID]
}

// ShouldTriggerAssistant implements TurnPolicy: all humans spoke this round.
func (p *Rounds) ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool {
	humans := roster.Humans()
	if len(humans) == 0 {
		return false
	}
	if _, any := core.LastMessage(events); !any {
		return false
	}
	spoken := humansSpokenSince(events, roster)
	for _, h := range humans {
		if !spoken[h.ID] {
			return false
		}
	}
	return true
}

// Describe implements TurnPolicy.
func (p *Rounds) Describe(state core.TurnState, roster core.Roster) string {
	if state.NextSpeakerID == core.AssistantID {
		return describeDefault(state, roster)
	}
	return "waiting for the remaining participants to speak this round"
}

// PersistsState implements TurnPolicy.
func (*Rounds) PersistsState() bool { return true }
