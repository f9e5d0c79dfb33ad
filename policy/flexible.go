package policy

import "github.com/convoq/convoq/core"

// Flexible places no restriction on speaking order: any human may speak at
// any time and the assistant responds to every human message.
type Flexible struct {
	base
}

// Mode implements TurnPolicy.
func (*Flexible) Mode() core.TurnPolicyMode { return core.ModeFlexible }

// InitializeFirstTurn implements TurnPolicy; flexible starts open.
func (*Flexible) InitializeFirstTurn(core.Roster) core.TurnState {
	return core.TurnState{}
}

// CalculateNextTurn implements TurnPolicy. The state stays open except while
// the assistant owes a response.
func (p *Flexible) CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState {
	last, ok := core.LastMessage(events)
	if !ok {
		return core.TurnState{}
	}
	if sp, known := roster.ByID(last.SenderID()); known && sp.Role.IsHuman() {
		return assistantTurn()
	}
	return core.TurnState{}
}

// CanSpeak implements TurnPolicy; humans are never blocked under flexible.
func (p *Flexible) CanSpeak(userID string, _ core.TurnState, _ []core.ConversationEvent, roster core.Roster) bool {
	part, ok := roster.ByID(userID)
	return ok && (part.Role.IsHuman() || part.ID == core.AssistantID)
}

// ShouldTriggerAssistant implements TurnPolicy.
func (p *Flexible) ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool {
	last, ok := core.LastMessage(events)
	if !ok {
		return false
	}
	sp, known := roster.ByID(last.SenderID())
	return known && sp.Role.IsHuman()
}

// Describe implements TurnPolicy.
func (p *Flexible) Describe(state core.TurnState, roster core.Roster) string {
	return describeDefault(state, roster)
}

// PersistsState implements TurnPolicy; the open state is trivial to refold.
func (*Flexible) PersistsState() bool { return false }
