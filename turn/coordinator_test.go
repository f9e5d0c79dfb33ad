package turn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoq/convoq/broadcast"
	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/policy"
	"github.com/convoq/convoq/presence"
	"github.com/convoq/convoq/store"
	"github.com/convoq/convoq/turn"
)

func seedConversation(t *testing.T, st *store.InMemoryStore, conversationID string, humans ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, conversationID, core.Settings{TurnMode: core.ModeMediated}))
	require.NoError(t, st.AddParticipant(ctx, conversationID, core.NewAssistantSeat()))
	for _, h := range humans {
		require.NoError(t, st.AddParticipant(ctx, conversationID, core.Participant{ID: h, Role: core.RoleHuman}))
	}
}

func appendMessage(t *testing.T, st *store.InMemoryStore, conversationID, senderID string) core.ConversationEvent {
	t.Helper()
	ev, err := st.AppendEvent(context.Background(), conversationID, core.EventMessage,
		core.MessagePayload{SenderID: senderID, Content: "msg from " + senderID})
	require.NoError(t, err)
	return ev
}

func TestCurrentTurnFoldsEmptyLogToFirstTurn(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st)
	state, err := coord.CurrentTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", state.NextSpeakerID)
	assert.Equal(t, core.RoleHuman, state.NextRole)
}

func TestSelfHealingRecoversFromLostTurnState(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st, func(o *turn.Options) {
		o.States = st
	})

	ev := appendMessage(t, st, "c1", "u1")
	state, err := coord.AdvanceAfter(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, core.AssistantID, state.NextSpeakerID)

	// Simulate a lost persisted state and a cold cache.
	st.DropTurnState("c1")
	coord.Invalidate()

	recovered, err := coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, recovered)

	persisted, found, err := st.LoadTurnState(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state, persisted)
}

func TestCanUserSendMessageIgnoresStaleCache(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st, func(o *turn.Options) {
		o.CacheTTL = time.Hour
	})

	// Warm the cache while the log is empty.
	_, err := coord.CurrentTurn(ctx)
	require.NoError(t, err)

	// Append behind the coordinator's back: u1 spoke, assistant owes a reply.
	appendMessage(t, st, "c1", "u1")

	ok, err := coord.CanUserSendMessage(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok, "live log says the assistant holds the floor")

	ok, err = coord.CanUserSendMessage(ctx, core.AssistantID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetClearsAllTypingAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")
	typing := presence.NewInMemoryStore()
	rec := broadcast.NewRecorder()

	require.NoError(t, typing.SetTyping(ctx, "c1", "u1", time.Minute))
	require.NoError(t, typing.SetTyping(ctx, "c1", core.AssistantID, time.Minute))

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st, func(o *turn.Options) {
		o.Typing = typing
		o.Broadcaster = rec
	})

	state, err := coord.Reset(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", state.NextSpeakerID)

	typers, err := typing.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, typers)

	assert.Len(t, rec.Named(core.BroadcastTurnChanged), 1)
	assert.Len(t, rec.Named(core.BroadcastTypingStopped), 2)
}

func TestResetRejectsUnknownParticipant(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st)
	_, err := coord.Reset(ctx, "stranger")
	assert.True(t, core.IsTurnViolation(err))
}

type failingStateStore struct{}

func (failingStateStore) SaveTurnState(context.Context, string, core.TurnState) error {
	return assert.AnError
}

func (failingStateStore) LoadTurnState(context.Context, string) (core.TurnState, bool, error) {
	return core.TurnState{}, false, nil
}

func TestTransitionBroadcastSurvivesPersistFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")
	rec := broadcast.NewRecorder()

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st, func(o *turn.Options) {
		o.States = failingStateStore{}
		o.Broadcaster = rec
	})

	ev := appendMessage(t, st, "c1", "u1")
	_, err := coord.AdvanceAfter(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, rec.Named(core.BroadcastTurnChanged), 1)
}

func TestReadPathOverwritesDivergentPersistedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st, func(o *turn.Options) {
		o.States = st
	})

	appendMessage(t, st, "c1", "u1")

	// A stale copy claims u2 holds the floor; the log says the assistant does.
	require.NoError(t, st.SaveTurnState(ctx, "c1", core.TurnState{NextSpeakerID: "u2", NextRole: core.RoleHuman}))
	coord.Invalidate()

	state, err := coord.CurrentTurn(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.AssistantID, state.NextSpeakerID)

	persisted, found, err := st.LoadTurnState(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state, persisted)
}

func TestManagerRebuildsCoordinatorOnModeChange(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	m := turn.NewManager(st, st, st)
	coord, err := m.For(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, core.ModeMediated, coord.Policy().Mode())

	require.NoError(t, st.UpdateSettings(ctx, "c1", core.Settings{TurnMode: core.ModeFlexible}))
	rebuilt, err := m.For(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, core.ModeFlexible, rebuilt.Policy().Mode())
	assert.NotSame(t, coord, rebuilt)
}

func TestAdvanceAfterRecomputesFromFullLog(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	seedConversation(t, st, "c1", "u1", "u2")

	coord := turn.NewCoordinator("c1", policy.ForMode(core.ModeMediated), st, st)

	ev := appendMessage(t, st, "c1", "u1")
	state, err := coord.AdvanceAfter(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, core.AssistantID, state.NextSpeakerID)

	ev = appendMessage(t, st, "c1", core.AssistantID)
	state, err = coord.AdvanceAfter(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "u2", state.NextSpeakerID, "rotation moves past the last human speaker")
}
