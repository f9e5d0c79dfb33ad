package store

import (
	"context"
	"sync"
	"time"

	"github.com/convoq/convoq/core"
)

// InMemoryStore is a volatile ConversationStore implementation keeping all
// conversations in a process-local map. It is safe for concurrent access and
// best suited for tests or ephemeral demo servers. Appends are serialized
// per store so sequences stay strictly increasing and CreatedAt stays
// monotonic within a conversation.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*conversation
}

type conversation struct {
	events       []core.ConversationEvent
	participants core.Roster
	settings     core.Settings
	turnState    *core.TurnState
	nextSeq      int64
	lastAt       time.Time
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]*conversation)}
}

// CreateConversation registers a conversation with its settings and the
// implicit assistant seat.
func (s *InMemoryStore) CreateConversation(_ context.Context, conversationID string, settings core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conversationID]; exists {
		return nil
	}
	if !settings.TurnMode.Valid() {
		settings.TurnMode = core.DefaultMode
	}
	s.convs[conversationID] = &conversation{
		participants: core.Roster{core.NewAssistantSeat()},
		settings:     settings,
		nextSeq:      1,
	}
	return nil
}

// AppendEvent implements core.EventStore, assigning id, sequence and a
// per-conversation monotonic timestamp.
func (s *InMemoryStore) AppendEvent(_ context.Context, conversationID string, typ core.EventType, payload core.Payload) (core.ConversationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return core.ConversationEvent{}, core.ErrConversationNotFound
	}
	now := time.Now().UTC()
	if !now.After(conv.lastAt) {
		now = conv.lastAt.Add(time.Microsecond)
	}
	ev := core.ConversationEvent{
		ID:             core.NewID(),
		ConversationID: conversationID,
		Type:           typ,
		Payload:        payload,
		CreatedAt:      now,
		Sequence:       conv.nextSeq,
	}
	conv.nextSeq++
	conv.lastAt = now
	conv.events = append(conv.events, ev)
	return ev, nil
}

// ListEvents implements core.EventStore; returns a defensive copy in
// sequence order.
func (s *InMemoryStore) ListEvents(_ context.Context, conversationID string) ([]core.ConversationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	events := make([]core.ConversationEvent, len(conv.events))
	copy(events, conv.events)
	return events, nil
}

// AddParticipant implements core.ParticipantStore. Adding an existing id is
// a no-op so joins stay idempotent.
func (s *InMemoryStore) AddParticipant(_ context.Context, conversationID string, p core.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	if conv.participants.Contains(p.ID) {
		return nil
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	conv.participants = append(conv.participants, p)
	return nil
}

// ListParticipants implements core.ParticipantStore; stable creation order.
func (s *InMemoryStore) ListParticipants(_ context.Context, conversationID string) (core.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	roster := make(core.Roster, len(conv.participants))
	copy(roster, conv.participants)
	return roster, nil
}

// GetSettings implements core.SettingsStore.
func (s *InMemoryStore) GetSettings(_ context.Context, conversationID string) (core.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return core.Settings{}, core.ErrConversationNotFound
	}
	return conv.settings, nil
}

// UpdateSettings implements core.SettingsStore.
func (s *InMemoryStore) UpdateSettings(_ context.Context, conversationID string, settings core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	conv.settings = settings
	return nil
}

// SaveTurnState implements core.TurnStateStore.
func (s *InMemoryStore) SaveTurnState(_ context.Context, conversationID string, state core.TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return core.ErrConversationNotFound
	}
	conv.turnState = &state
	return nil
}

// LoadTurnState implements core.TurnStateStore.
func (s *InMemoryStore) LoadTurnState(_ context.Context, conversationID string) (core.TurnState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok || conv.turnState == nil {
		return core.TurnState{}, false, nil
	}
	return *conv.turnState, true, nil
}

// DropTurnState clears the persisted cache copy. Used by reconciliation
// tests to simulate cache loss.
func (s *InMemoryStore) DropTurnState(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[conversationID]; ok {
		conv.turnState = nil
	}
}

// Interface compliance (compile-time assertions).
var (
	_ core.ConversationStore = (*InMemoryStore)(nil)
	_ core.TurnStateStore    = (*InMemoryStore)(nil)
)
