package core

import (
	"context"
	"time"
)

// EventStore is the narrow contract over the persistence collaborator for
// the append-only conversation log. AppendEvent assigns id, sequence and
// timestamp; ListEvents returns events ordered by sequence ascending.
// Implementations must serialize appends per conversation so sequences are
// strictly increasing.
type EventStore interface {
	AppendEvent(ctx context.Context, conversationID string, typ EventType, payload Payload) (ConversationEvent, error)
	ListEvents(ctx context.Context, conversationID string) ([]ConversationEvent, error)
}

// ParticipantStore persists the roster in stable creation order.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, conversationID string, p Participant) error
	ListParticipants(ctx context.Context, conversationID string) (Roster, error)
}

// SettingsStore reads and writes the conversation settings the turn engine
// depends on.
type SettingsStore interface {
	GetSettings(ctx context.Context, conversationID string) (Settings, error)
	UpdateSettings(ctx context.Context, conversationID string, s Settings) error
}

// TurnStateStore optionally persists the derived turn state. It is strictly
// a cache of the event-log fold; readers must treat a miss or a stale value
// as "recompute", never as an error.
type TurnStateStore interface {
	SaveTurnState(ctx context.Context, conversationID string, state TurnState) error
	LoadTurnState(ctx context.Context, conversationID string) (TurnState, bool, error)
}

// ConversationStore is the full persistence surface the engine wires in.
type ConversationStore interface {
	EventStore
	ParticipantStore
	SettingsStore
	CreateConversation(ctx context.Context, conversationID string, settings Settings) error
}

// TypingStore holds ephemeral per-(conversation,user) typing indicators with
// a short TTL. Losing this state is safe; clients recover on the next
// broadcast. Clear must be idempotent because completion and timeout paths
// may race to call it.
type TypingStore interface {
	SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	ActiveTypers(ctx context.Context, conversationID string) ([]string, error)
}

// Broadcaster is the fire-and-forget, at-least-once façade over the realtime
// fan-out transport. Failures must never interrupt the pipeline that already
// committed an event.
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID, eventName string, payload any) error
}

// Broadcast event names pushed to connected clients.
const (
	BroadcastNewMessage       = "new_message"
	BroadcastTurnChanged      = "turn_changed"
	BroadcastTypingStarted    = "typing_started"
	BroadcastTypingStopped    = "typing_stopped"
	BroadcastCompletionStatus = "completion_status_changed"
	BroadcastParticipantJoin  = "participant_joined"
	BroadcastSettingsChanged  = "settings_changed"
)

// NoOpBroadcaster discards all broadcasts. Useful for tests or headless runs.
type NoOpBroadcaster struct{}

// Broadcast implements Broadcaster.
func (NoOpBroadcaster) Broadcast(context.Context, string, string, any) error { return nil }
