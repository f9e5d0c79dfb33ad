package core

import "fmt"

// TurnState is the derived {next speaker, next role} for a conversation. It
// is a pure function of (event log, roster) under the active policy and is
// never an independent source of truth: losing or corrupting a cached copy
// must be recoverable by refolding the log.
type TurnState struct {
	// NextSpeakerID is the participant expected to speak next. Empty means
	// any participant may speak (flexible policy).
	NextSpeakerID string `json:"next_speaker_id"`
	NextRole      Role   `json:"next_role"`
}

// Open reports whether the state places no restriction on the next speaker.
func (s TurnState) Open() bool { return s.NextSpeakerID == "" }

// TurnPolicyMode selects the turn policy attached to a conversation's settings.
type TurnPolicyMode string

const (
	// ModeFlexible allows anyone to speak at any time.
	ModeFlexible TurnPolicyMode = "flexible"
	// ModeStrict is a fixed round-robin over the roster with no skipping.
	ModeStrict TurnPolicyMode = "strict"
	// ModeRounds lets the assistant speak only after every human has spoken
	// once in the current round.
	ModeRounds TurnPolicyMode = "rounds"
	// ModeModerated has the assistant hand the floor to the least recently
	// active human.
	ModeModerated TurnPolicyMode = "moderated"
	// ModeMediated alternates human and assistant turns, rotating strictly
	// through the humans in roster order. Default.
	ModeMediated TurnPolicyMode = "mediated"
)

// DefaultMode is applied when a conversation's settings carry no mode.
const DefaultMode = ModeMediated

// Valid reports whether the mode names a known policy.
func (m TurnPolicyMode) Valid() bool {
	switch m {
	case ModeFlexible, ModeStrict, ModeRounds, ModeModerated, ModeMediated:
		return true
	}
	return false
}

// ParseMode validates a mode string, returning DefaultMode for "".
func ParseMode(s string) (TurnPolicyMode, error) {
	if s == "" {
		return DefaultMode, nil
	}
	m := TurnPolicyMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown turn policy mode %q", s)
	}
	return m, nil
}

// Settings is the slice of conversation configuration the turn engine reads.
type Settings struct {
	TurnMode TurnPolicyMode `json:"turn_mode"`
}
