package policy

import "github.com/convoq/convoq/core"

// Moderated has the assistant respond to every human message and then hand
// the floor to the least recently active human: humans are ordered by
// ascending message count, ties broken by stable roster order.
type Moderated struct {
	base
}

// Mode implements TurnPolicy.
func (*Moderated) Mode() core.TurnPolicyMode { return core.ModeModerated }

// InitializeFirstTurn implements TurnPolicy.
func (p *Moderated) InitializeFirstTurn(roster core.Roster) core.TurnState {
	return p.fallbackFirst(roster)
}

// CalculateNextTurn implements TurnPolicy.
func (p *Moderated) CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState {
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
	quiet, ok := p.leastActiveHuman(events, roster)
	if !ok {
		return p.fallbackFirst(roster)
	}
	return turnFor(quiet)
}

// leastActiveHuman picks the human with the fewest messages so far. A linear
// scan in roster order with a strict less-than keeps the tie-break stable.
func (p *Moderated) leastActiveHuman(events []core.ConversationEvent, roster core.Roster) (core.Participant, bool) {
	humans := roster.Humans()
	if len(humans) == 0 {
		return core.Participant{}, false
	}
	counts := messageCounts(events)
	best := humans[0]
	for _, h := range humans[1:] {
		if counts[h.ID] < counts[best.ID] {
			best = h
		}
	}
	return best, true
}

// CanSpeak implements TurnPolicy.
func (p *Moderated) CanSpeak(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool {
	return p.canSpeakDefault(userID, state, events, roster)
}

// ShouldTriggerAssistant implements TurnPolicy.
func (p *Moderated) ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool {
	last, ok := core.LastMessage(events)
	if !ok {
		return false
	}
	sp, known := roster.ByID(last.SenderID())
	return known && sp.Role.IsHuman()
}

// Describe implements TurnPolicy.
func (p *Moderated) Describe(state core.TurnState, roster core.Roster) string {
	return describeDefault(state, roster)
}

// PersistsState implements TurnPolicy; the fold is cheap and activity-driven.
func (*Moderated) PersistsState() bool { return false }
