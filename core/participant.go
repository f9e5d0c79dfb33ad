package core

import "time"

// Role classifies a conversation seat.
type Role string

const (
	// RoleHuman is a registered human participant.
	RoleHuman Role = "human"
	// RoleAssistant is the AI seat, implicitly present in every conversation.
	RoleAssistant Role = "assistant"
	// RoleGuest is an unregistered human participant.
	RoleGuest Role = "guest"
)

// AssistantID is the fixed participant id of the implicit assistant seat.
const AssistantID = "assistant"

// IsHuman reports whether the role is a human-operated seat (human or guest).
func (r Role) IsHuman() bool { return r == RoleHuman || r == RoleGuest }

// Participant represents one seat in a conversation. Participants are created
// on join (or at conversation creation for the assistant seat) and never
// deleted, only referenced.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// NewAssistantSeat returns the implicit assistant participant.
func NewAssistantSeat() Participant {
	return Participant{ID: AssistantID, DisplayName: "Assistant", Role: RoleAssistant, JoinedAt: time.Now().UTC()}
}

// Roster is the stable, creation-ordered participant list of a conversation.
// Order is never re-sorted by activity; it is the tie-break order for every
// turn policy.
type Roster []Participant

// Humans returns the human-operated participants in stable roster order.
func (r Roster) Humans() Roster {
	res := make(Roster, 0, len(r))
	for _, p := range r {
		if p.Role.IsHuman() {
			res = append(res, p)
		}
	}
	return res
}

// ByID looks up a participant by id.
func (r Roster) ByID(id string) (Participant, bool) {
	for _, p := range r {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Contains reports whether a participant with the given id is present.
func (r Roster) Contains(id string) bool {
	_, ok := r.ByID(id)
	return ok
}

// IndexOf returns the stable-order index of the participant, or -1.
func (r Roster) IndexOf(id string) int {
	for i, p := range r {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// First returns the first participant, preferring the first human seat so the
// assistant never ends up as a deterministic fallback speaker.
func (r Roster) First() (Participant, bool) {
	if humans := r.Humans(); len(humans) > 0 {
		return humans[0], true
	}
	if len(r) > 0 {
		return r[0], true
	}
	return Participant{}, false
}
