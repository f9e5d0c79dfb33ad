package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes entries in the conversation event log.
type EventType string

const (
	// EventMessage records one utterance by a participant.
	EventMessage EventType = "message"
	// EventParticipantJoined records a participant entering the conversation.
	EventParticipantJoined EventType = "participant_joined"
	// EventCompletionMarked records a participant's intent to end the conversation.
	EventCompletionMarked EventType = "completion_marked"
)

// Payload is a polymorphic event payload. Concrete payload types implement
// the unexported isPayload marker enabling a closed set.
type Payload interface{ isPayload() }

// MessagePayload carries the content of a message event.
type MessagePayload struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

func (MessagePayload) isPayload() {}

// JoinPayload carries the identity of a newly joined participant.
type JoinPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Role          Role   `json:"role"`
}

func (JoinPayload) isPayload() {}

// CompletionPayload carries a participant's completion mark.
type CompletionPayload struct {
	ParticipantID  string `json:"participant_id"`
	CompletionType string `json:"completion_type,omitempty"`
}

func (CompletionPayload) isPayload() {}

// ConversationEvent is one immutable record in the append-only conversation
// log. Events are never mutated or deleted; Sequence is strictly increasing
// per conversation and CreatedAt is monotonic per conversation.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	Payload        Payload   `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
	Sequence       int64     `json:"sequence"`
}

// NewID generates a new unique identifier for events, correlation chains and
// generation attempts.
func NewID() string { return uuid.NewString() }

// IsMessage reports whether the event is a message utterance.
func (e ConversationEvent) IsMessage() bool { return e.Type == EventMessage }

// SenderID returns the message sender for message events, or "" for every
// other event type.
func (e ConversationEvent) SenderID() string {
	if mp, ok := e.Payload.(MessagePayload); ok {
		return mp.SenderID
	}
	return ""
}

// Text returns the message content for message events, or "".
func (e ConversationEvent) Text() string {
	if mp, ok := e.Payload.(MessagePayload); ok {
		return mp.Content
	}
	return ""
}

// payloadEnvelope is the type-tagged wire form used when a payload crosses a
// serialization boundary (persistence, broadcast).
type payloadEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a payload into its type-tagged JSON form.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte(`null`), nil
	}
	var kind string
	switch p.(type) {
	case MessagePayload:
		kind = "message"
	case JoinPayload:
		kind = "join"
	case CompletionPayload:
		kind = "completion"
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Kind: kind, Data: data})
}

// UnmarshalPayload decodes a type-tagged JSON payload produced by MarshalPayload.
func UnmarshalPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case "message":
		var p MessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "join":
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case "completion":
		var p CompletionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}

// Messages filters an event slice down to message events preserving order.
func Messages(events []ConversationEvent) []ConversationEvent {
	res := make([]ConversationEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsMessage() {
			res = append(res, ev)
		}
	}
	return res
}

// LastMessage returns the most recent message event, or false if none exists.
func LastMessage(events []ConversationEvent) (ConversationEvent, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsMessage() {
			return events[i], true
		}
	}
	return ConversationEvent{}, false
}
