package store

import (
	"context"
	"testing"

	"github.com/convoq/convoq/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_AppendOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, "c1", core.Settings{TurnMode: core.ModeMediated}))

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, "c1", core.EventMessage, core.MessagePayload{SenderID: "u1", Content: "m"})
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		if i > 0 {
			assert.True(t, ev.CreatedAt.After(events[i-1].CreatedAt), "timestamps must be monotonic")
		}
	}
}

func TestInMemoryStore_UnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.AppendEvent(ctx, "missing", core.EventMessage, core.MessagePayload{})
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
	_, err = s.ListEvents(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestInMemoryStore_ParticipantsIdempotentJoin(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, "c1", core.Settings{}))

	require.NoError(t, s.AddParticipant(ctx, "c1", core.Participant{ID: "u1", Role: core.RoleHuman}))
	require.NoError(t, s.AddParticipant(ctx, "c1", core.Participant{ID: "u1", Role: core.RoleHuman}))

	roster, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	// Assistant seat plus one human, join order preserved.
	require.Len(t, roster, 2)
	assert.Equal(t, core.AssistantID, roster[0].ID)
	assert.Equal(t, "u1", roster[1].ID)
}

func TestInMemoryStore_TurnStateCache(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.CreateConversation(ctx, "c1", core.Settings{}))

	_, found, err := s.LoadTurnState(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)

	state := core.TurnState{NextSpeakerID: "u1", NextRole: core.RoleHuman}
	require.NoError(t, s.SaveTurnState(ctx, "c1", state))
	got, found, err := s.LoadTurnState(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state, got)

	s.DropTurnState("c1")
	_, found, _ = s.LoadTurnState(ctx, "c1")
	assert.False(t, found)
}
