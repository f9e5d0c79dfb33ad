package assistant_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoq/convoq/assistant"
	"github.com/convoq/convoq/broadcast"
	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/presence"
	"github.com/convoq/convoq/store"
)

func newConversation(t *testing.T, conversationID string) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, conversationID, core.Settings{TurnMode: core.ModeMediated}))
	require.NoError(t, st.AddParticipant(ctx, conversationID, core.Participant{ID: core.AssistantID, Role: core.RoleAssistant}))
	require.NoError(t, st.AddParticipant(ctx, conversationID, core.Participant{ID: "u1", Role: core.RoleHuman}))
	_, err := st.AppendEvent(ctx, conversationID, core.EventMessage, core.MessagePayload{SenderID: "u1", Content: "hello"})
	require.NoError(t, err)
	return st
}

func fastOptions(typing core.TypingStore, bc core.Broadcaster) func(o *assistant.Options) {
	return func(o *assistant.Options) {
		o.ResponseTimeout = time.Second
		o.PollInterval = 5 * time.Millisecond
		o.Retry = assistant.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
		o.Typing = typing
		o.Broadcaster = bc
	}
}

func TestRespondAppendsAssistantMessage(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.QueueReply("hi there")
	rec := broadcast.NewRecorder()
	typing := presence.NewInMemoryStore()

	sup := assistant.NewSupervisor(backend, st, fastOptions(typing, rec))
	ev, err := sup.Respond(ctx, "c1", "corr-1")
	require.NoError(t, err)

	assert.Equal(t, core.EventMessage, ev.Type)
	assert.Equal(t, core.AssistantID, ev.SenderID())
	assert.Equal(t, "hi there", ev.Text())

	events, err := st.ListEvents(ctx, "c1")
	require.NoError(t, err)
	last, ok := core.LastMessage(events)
	require.True(t, ok)
	assert.Equal(t, ev.ID, last.ID)

	assert.Len(t, rec.Named(core.BroadcastNewMessage), 1)
}

func TestRespondTypingLifecycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.QueueReply("ok")
	rec := broadcast.NewRecorder()
	typing := presence.NewInMemoryStore()

	sup := assistant.NewSupervisor(backend, st, fastOptions(typing, rec))
	_, err := sup.Respond(ctx, "c1", "corr-1")
	require.NoError(t, err)

	typers, err := typing.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, typers)
	assert.Len(t, rec.Named(core.BroadcastTypingStarted), 1)
	assert.Len(t, rec.Named(core.BroadcastTypingStopped), 1)
}

func TestRespondTimesOutWithoutAppending(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.Latency = 500 * time.Millisecond
	backend.QueueReply("too late")
	typing := presence.NewInMemoryStore()
	rec := broadcast.NewRecorder()

	sup := assistant.NewSupervisor(backend, st, func(o *assistant.Options) {
		fastOptions(typing, rec)(o)
		o.ResponseTimeout = 20 * time.Millisecond
	})
	_, err := sup.Respond(ctx, "c1", "corr-1")
	require.ErrorIs(t, err, core.ErrGenerationTimeout)

	events, err := st.ListEvents(ctx, "c1")
	require.NoError(t, err)
	for _, ev := range core.Messages(events) {
		assert.NotEqual(t, core.AssistantID, ev.SenderID())
	}

	typers, err := typing.ActiveTypers(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, typers)
}

func TestRespondRetriesTransientSubmitFailures(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.QueueError(core.NewTransientBackendError(429, errors.New("rate limited")))
	backend.QueueReply("recovered")
	rec := broadcast.NewRecorder()

	sup := assistant.NewSupervisor(backend, st, fastOptions(nil, rec))
	ev, err := sup.Respond(ctx, "c1", "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "recovered", ev.Text())
}

func TestRespondSurfacesPermanentFailureWithoutAppending(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.QueueError(core.NewPermanentBackendError(400, errors.New("bad request")))

	sup := assistant.NewSupervisor(backend, st, fastOptions(nil, core.NoOpBroadcaster{}))
	_, err := sup.Respond(ctx, "c1", "corr-1")
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))

	events, listErr := st.ListEvents(ctx, "c1")
	require.NoError(t, listErr)
	for _, ev := range core.Messages(events) {
		assert.NotEqual(t, core.AssistantID, ev.SenderID())
	}
}

func TestRespondDeduplicatesConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()
	backend.Latency = 50 * time.Millisecond
	backend.QueueReply("single reply")

	sup := assistant.NewSupervisor(backend, st, fastOptions(nil, core.NoOpBroadcaster{}))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := sup.Respond(ctx, "c1", "corr-dup")
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	var dups int
	for _, err := range []error{first, second} {
		if errors.Is(err, assistant.ErrDuplicateTrigger) {
			dups++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, backend.Starts())
}

func TestRespondSyncsOnlyNewMessagesToThread(t *testing.T) {
	ctx := context.Background()
	st := newConversation(t, "c1")
	backend := assistant.NewMockBackend()

	sup := assistant.NewSupervisor(backend, st, fastOptions(nil, core.NoOpBroadcaster{}))
	ev, err := sup.Respond(ctx, "c1", "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", ev.Text())

	_, err = st.AppendEvent(ctx, "c1", core.EventMessage, core.MessagePayload{SenderID: "u1", Content: "second"})
	require.NoError(t, err)

	ev, err = sup.Respond(ctx, "c1", "corr-2")
	require.NoError(t, err)
	assert.Equal(t, "You said: second", ev.Text())
}
