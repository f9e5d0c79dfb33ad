package policy

import "github.com/convoq/convoq/core"

// Mediated is the default policy: a single human alternates with the
// assistant, and with two or more humans the assistant's response hands the
// floor to the next human in stable roster order relative to the human who
// spoke last. The conversation's creator waits for the full rotation like
// everyone else.
type Mediated struct {
	base
}

// Mode implements TurnPolicy.
func (*Mediated) Mode() core.TurnPolicyMode { return core.ModeMediated }

// InitializeFirstTurn implements TurnPolicy: the creator (first human seat,
// in join order) opens the conversation.
func (p *Mediated) InitializeFirstTurn(roster core.Roster) core.TurnState {
	return p.fallbackFirst(roster)
}

// CalculateNextTurn implements TurnPolicy.
//
// After a human message the assistant always speaks. After an assistant
// message the floor rotates: find the human whose message immediately
// preceded the assistant's and advance to the next human in roster order,
// wrapping around. With exactly one human there is nothing to rotate.
func (p *Mediated) CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState {
	last, ok := core.LastMessage(events)
	if !ok {
		return p.InitializeFirstTurn(roster)
	}
	sender, known := roster.ByID(last.SenderID())
	if !known {
		p.warnUnknownSender(last.SenderID())
		return p.fallbackFirst(roster)
	}
	if sender.Role.IsHuman() {
		return assistantTurn()
	}

	humans := roster.Humans()
	switch len(humans) {
	case 0:
		return p.fallbackFirst(roster)
	case 1:
		return turnFor(humans[0])
	}

	prev, found := p.humanBeforeAssistant(events, roster)
	if !found {
		return turnFor(humans[0])
	}
	idx := humans.IndexOf(prev)
	if idx < 0 {
		p.warnUnknownSender(prev)
		return turnFor(humans[0])
	}
	return turnFor(humans[(idx+1)%len(humans)])
}

// humanBeforeAssistant finds the sender of the human message immediately
// preceding the trailing assistant message. This is deliberately not "the
// first human": the rotation anchors on whoever the assistant just answered.
func (p *Mediated) humanBeforeAssistant(events []core.ConversationEvent, roster core.Roster) (string, bool) {
	msgs := core.Messages(events)
	for i := len(msgs) - 1; i >= 0; i-- {
		sender := msgs[i].SenderID()
		if part, ok := roster.ByID(sender); ok && part.Role.IsHuman() {
			return sender, true
		}
	}
	return "", false
}

// CanSpeak implements TurnPolicy.
func (p *Mediated) CanSpeak(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool {
	return p.canSpeakDefault(userID, state, events, roster)
}

// ShouldTriggerAssistant implements TurnPolicy: the assistant owes a
// response whenever the latest message came from a human.
func (p *Mediated) ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool {
	last, ok := core.LastMessage(events)
	if !ok {
		return false
	}
	sp, known := roster.ByID(last.SenderID())
	return known && sp.Role.IsHuman()
}

// Describe implements TurnPolicy.
func (p *Mediated) Describe(state core.TurnState, roster core.Roster) string {
	return describeDefault(state, roster)
}

// PersistsState implements TurnPolicy.
func (*Mediated) PersistsState() bool { return true }
