package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsSyncHandlersInPriorityOrder(t *testing.T) {
	b := New()
	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return func(_ context.Context, _ DomainEvent) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	b.Subscribe(MessageReceived, "third", 30, record("third"))
	b.Subscribe(MessageReceived, "first", 10, record("first"))
	b.Subscribe(MessageReceived, "second", 20, record("second"))

	err := b.Publish(context.Background(), NewDomainEvent(MessageReceived, "c1", "u1", "", "test"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishStopsChainOnFirstError(t *testing.T) {
	b := New()
	boom := errors.New("turn violation")
	var ran []string

	b.Subscribe(MessageReceived, "validate", 10, func(_ context.Context, _ DomainEvent) error {
		ran = append(ran, "validate")
		return boom
	})
	b.Subscribe(MessageReceived, "store", 20, func(_ context.Context, _ DomainEvent) error {
		ran = append(ran, "store")
		return nil
	})

	err := b.Publish(context.Background(), NewDomainEvent(MessageReceived, "c1", "u1", "", "test"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"validate"}, ran)
}

func TestEqualPrioritiesKeepRegistrationOrder(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(TurnChanged, "a", 50, func(_ context.Context, _ DomainEvent) error {
		order = append(order, "a")
		return nil
	})
	b.Subscribe(TurnChanged, "b", 50, func(_ context.Context, _ DomainEvent) error {
		order = append(order, "b")
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), NewDomainEvent(TurnChanged, "c1", "u1", "", "test")))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestAsyncHandlerFailureDoesNotReachPublisher(t *testing.T) {
	b := New()
	var errEvents []DomainEvent
	var mu sync.Mutex

	b.SubscribeAsync(AIResponseRequested, "generate", 10, func(_ context.Context, _ DomainEvent) error {
		return errors.New("backend unavailable")
	})
	b.Subscribe(ErrorOccurred, "observer", 10, func(_ context.Context, ev DomainEvent) error {
		mu.Lock()
		errEvents = append(errEvents, ev)
		mu.Unlock()
		return nil
	})

	err := b.Publish(context.Background(), NewDomainEvent(AIResponseRequested, "c1", "u1", "corr-1", "test"))
	require.NoError(t, err)
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errEvents, 1)
	assert.Equal(t, "corr-1", errEvents[0].CorrelationID)
	assert.Equal(t, "backend unavailable", errEvents[0].String("error"))
	assert.Equal(t, string(AIResponseRequested), errEvents[0].String("failed_event"))
}

func TestAsyncHandlerPanicIsContained(t *testing.T) {
	b := New()
	b.SubscribeAsync(MessageStored, "explode", 10, func(_ context.Context, _ DomainEvent) error {
		panic("boom")
	})

	err := b.Publish(context.Background(), NewDomainEvent(MessageStored, "c1", "u1", "", "test"))
	require.NoError(t, err)
	b.Wait()
}

func TestDeriveThreadsCorrelationID(t *testing.T) {
	ev := NewDomainEvent(MessageReceived, "c1", "u1", "", "engine")
	require.NotEmpty(t, ev.CorrelationID)

	next := ev.Derive(MessageStored, "storage")
	assert.Equal(t, ev.CorrelationID, next.CorrelationID)
	assert.Equal(t, ev.ConversationID, next.ConversationID)
	assert.Equal(t, ev.ActorID, next.ActorID)
	assert.Equal(t, "storage", next.Source)
}

func TestPublishWithNoSubscribersSucceeds(t *testing.T) {
	b := New()
	err := b.Publish(context.Background(), NewDomainEvent(SettingsChanged, "c1", "u1", "", "test"))
	assert.NoError(t, err)
}
