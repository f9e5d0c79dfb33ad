package policy

import "github.com/convoq/convoq/core"

// Strict is a fixed round-robin over the full roster, assistant seat
// included, with no skipping. The rotation order is stable roster order.
type Strict struct {
	base
}

// Mode implements TurnPolicy.
func (*Strict) Mode() core.TurnPolicyMode { return core.ModeStrict }

// InitializeFirstTurn implements TurnPolicy; the first human seat opens.
func (p *Strict) InitializeFirstTurn(roster core.Roster) core.TurnState {
	return p.fallbackFirst(roster)
}

// CalculateNextTurn implements TurnPolicy: the participant after the last
// sender in roster order speaks next.
func (p *Strict) CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState {
	last, ok := core.LastMessage(events)
	if !ok {
		return p.InitializeFirstTurn(roster)
	}
	if len(roster) == 0 {
		return core.TurnState{}
	}
	idx := roster.IndexOf(last.SenderID())
	if idx < 0 {
		p.warnUnknownSender(last.SenderID())
		return p.fallbackFirst(roster)
	}
	return turnFor(roster[(idx+1)%len(roster)])
}

// CanSpeak implements TurnPolicy.
func (p *Strict) CanSpeak(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool {
	return p.canSpeakDefault(userID, state, events, roster)
}

// ShouldTriggerAssistant implements TurnPolicy; true when rotation lands on
// the assistant seat.
func (p *Strict) ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool {
	if _, any := core.LastMessage(events); !any {
		return false
	}
	return p.CalculateNextTurn(events, roster).NextSpeakerID == core.AssistantID
}

// Describe implements TurnPolicy.
func (p *Strict) Describe(state core.TurnState, roster core.Roster) string {
	return describeDefault(state, roster)
}

// PersistsState implements TurnPolicy.
func (*Strict) PersistsState() bool { return true }
