package policy

import (
	"fmt"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
)

// TurnPolicy decides turn state from conversation history. Implementations
// must be pure: no I/O, no hidden state, deterministic for identical inputs.
type TurnPolicy interface {
	// Mode names the policy.
	Mode() core.TurnPolicyMode

	// InitializeFirstTurn derives the opening turn state for an empty log.
	InitializeFirstTurn(roster core.Roster) core.TurnState

	// CalculateNextTurn folds the full event history into the current turn state.
	CalculateNextTurn(events []core.ConversationEvent, roster core.Roster) core.TurnState

	// CanSpeak reports whether userID may send a message given the computed
	// state. The very first message of a conversation is permitted from any
	// human participant regardless of what a freshly initialized state
	// claims, so an empty conversation can never deadlock.
	CanSpeak(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool

	// ShouldTriggerAssistant reports whether the assistant owes a response
	// given the current history.
	ShouldTriggerAssistant(events []core.ConversationEvent, roster core.Roster) bool

	// Describe renders a short human-readable status for the state.
	Describe(state core.TurnState, roster core.Roster) string

	// PersistsState reports whether transitions under this policy should be
	// written to the turn-state cache store. Policies whose state is trivial
	// to refold (flexible, moderated) skip persistence.
	PersistsState() bool
}

// Options configures policy construction.
type Options struct {
	// Logger receives fallback warnings (unknown sender ids). Defaults to NoOp.
	Logger logging.Logger
}

// ForMode returns the policy implementation for a mode. Unknown modes fall
// back to the default (mediated) so a corrupt settings row cannot take a
// conversation down.
func ForMode(mode core.TurnPolicyMode, optFns ...func(o *Options)) TurnPolicy {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	base := base{logger: opts.Logger}
	switch mode {
	case core.ModeFlexible:
		return &Flexible{base: base}
	case core.ModeStrict:
		return &Strict{base: base}
	case core.ModeRounds:
		return &Rounds{base: base}
	case core.ModeModerated:
		return &Moderated{base: base}
	case core.ModeMediated:
		return &Mediated{base: base}
	default:
		opts.Logger.Warn("unknown turn policy mode %q, using %s", mode, core.DefaultMode)
		return &Mediated{base: base}
	}
}

// base carries the shared fallback helpers and logger.
type base struct {
	logger logging.Logger
}

// fallbackFirst resolves the deterministic degraded state used when history
// references a sender the roster does not know.
func (b base) fallbackFirst(roster core.Roster) core.TurnState {
	first, ok := roster.First()
	if !ok {
		return core.TurnState{}
	}
	return core.TurnState{NextSpeakerID: first.ID, NextRole: first.Role}
}

// warnUnknownSender logs the degraded-path warning once per computation.
func (b base) warnUnknownSender(sender string) {
	b.logger.Warn("turn policy: unknown sender %q in event log, falling back to first participant", sender)
}

// canSpeakDefault implements the shared permission check: roster membership,
// the first-message exception, open states, and exact speaker match.
func (b base) canSpeakDefault(userID string, state core.TurnState, events []core.ConversationEvent, roster core.Roster) bool {
	p, ok := roster.ByID(userID)
	if !ok {
		return false
	}
	if _, any := core.LastMessage(events); !any {
		return p.Role.IsHuman()
	}
	if state.Open() {
		return p.Role.IsHuman()
	}
	return state.NextSpeakerID == userID
}

// describeDefault renders the common status strings.
func describeDefault(state core.TurnState, roster core.Roster) string {
	if state.Open() {
		return "anyone may speak"
	}
	if state.NextRole == core.RoleAssistant {
		return "waiting for the assistant to respond"
	}
	name := state.NextSpeakerID
	if p, ok := roster.ByID(state.NextSpeakerID); ok && p.DisplayName != "" {
		name = p.DisplayName
	}
	return fmt.Sprintf("waiting for %s", name)
}

// turnFor builds a TurnState pointing at a participant.
func turnFor(p core.Participant) core.TurnState {
	return core.TurnState{NextSpeakerID: p.ID, NextRole: p.Role}
}

// assistantTurn is the TurnState assigning the floor to the assistant seat.
func assistantTurn() core.TurnState {
	return core.TurnState{NextSpeakerID: core.AssistantID, NextRole: core.RoleAssistant}
}

// humansSpokenSince returns the set of human sender ids that have spoken
// since the most recent assistant message (or since the beginning if the
// assistant has not spoken yet).
func humansSpokenSince(events []core.ConversationEvent, roster core.Roster) map[string]bool {
	spoken := map[string]bool{}
	for _, ev := range events {
		if !ev.IsMessage() {
			continue
		}
		sender := ev.SenderID()
		if sender == core.AssistantID {
			spoken = map[string]bool{}
			continue
		}
		if p, ok := roster.ByID(sender); ok && p.Role.IsHuman() {
			spoken[sender] = true
		}
	}
	return spoken
}

// messageCounts tallies message events per sender id.
func messageCounts(events []core.ConversationEvent) map[string]int {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.IsMessage() {
			counts[ev.SenderID()]++
		}
	}
	return counts
}
