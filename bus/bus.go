package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
)

// EventType names a domain event on the bus.
type EventType string

// The canonical pipeline event types.
const (
	MessageReceived     EventType = "message_received"
	MessageValidated    EventType = "message_validated"
	MessageStored       EventType = "message_stored"
	TurnChanged         EventType = "turn_changed"
	AIResponseRequested EventType = "ai_response_requested"
	AIResponseCompleted EventType = "ai_response_completed"
	AIResponseFailed    EventType = "ai_response_failed"
	ParticipantJoined   EventType = "participant_joined"
	CompletionMarked    EventType = "completion_marked"
	SettingsChanged     EventType = "settings_changed"
	ErrorOccurred       EventType = "error_occurred"
)

// DomainEvent is one ephemeral bus message. CorrelationID threads every
// event derived from one inbound user action; it is used for log correlation
// and idempotent de-duplication on the AI step, never for business branching.
type DomainEvent struct {
	Type           EventType
	ConversationID string
	ActorID        string
	Timestamp      time.Time
	Payload        map[string]any
	CorrelationID  string
	Source         string
}

// NewDomainEvent builds an event stamped with the current time, minting a
// correlation id when the caller has none yet.
func NewDomainEvent(typ EventType, conversationID, actorID, correlationID, source string) DomainEvent {
	if correlationID == "" {
		correlationID = core.NewID()
	}
	return DomainEvent{
		Type:           typ,
		ConversationID: conversationID,
		ActorID:        actorID,
		Timestamp:      time.Now().UTC(),
		Payload:        map[string]any{},
		CorrelationID:  correlationID,
		Source:         source,
	}
}

// Derive creates a follow-up event in the same causal chain, inheriting the
// conversation, actor and correlation id.
func (e DomainEvent) Derive(typ EventType, source string) DomainEvent {
	next := NewDomainEvent(typ, e.ConversationID, e.ActorID, e.CorrelationID, source)
	return next
}

// With sets a payload value and returns the event for chaining.
func (e DomainEvent) With(key string, value any) DomainEvent {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}

// String value from the payload, or "".
func (e DomainEvent) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Handler processes one domain event. An error from a synchronous handler
// aborts the rest of the synchronous chain and propagates to the publisher.
type Handler func(ctx context.Context, ev DomainEvent) error

type subscription struct {
	name     string
	priority int
	async    bool
	handler  Handler
	order    int // registration order, tie-break for equal priorities
}

// Options configures a Bus.
type Options struct {
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Bus routes DomainEvents to registered handlers. Safe for concurrent use.
type Bus struct {
	logger logging.Logger

	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID int

	wg sync.WaitGroup
}

// New constructs a Bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{logger: opts.Logger, subs: make(map[EventType][]subscription)}
}

// Subscribe registers a synchronous handler. Lower priority runs first.
func (b *Bus) Subscribe(typ EventType, name string, priority int, h Handler) {
	b.add(typ, name, priority, false, h)
}

// SubscribeAsync registers a fire-and-forget handler. Its errors and panics
// are contained, logged, and re-emitted as an ErrorOccurred event.
func (b *Bus) SubscribeAsync(typ EventType, name string, priority int, h Handler) {
	b.add(typ, name, priority, true, h)
}

func (b *Bus) add(typ EventType, name string, priority int, async bool, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	subs := append(b.subs[typ], subscription{
		name: name, priority: priority, async: async, handler: h, order: b.nextID,
	})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		return subs[i].order < subs[j].order
	})
	b.subs[typ] = subs
}

// Publish delivers the event: synchronous handlers run in priority order on
// the caller's goroutine, stopping at the first error, which is returned.
// Async handlers are dispatched regardless of synchronous failures.
func (b *Bus) Publish(ctx context.Context, ev DomainEvent) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[ev.Type]))
	copy(subs, b.subs[ev.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.async {
			b.dispatchAsync(ctx, sub, ev)
		}
	}
	for _, sub := range subs {
		if sub.async {
			continue
		}
		if err := sub.handler(ctx, ev); err != nil {
			b.logger.Debug("bus handler %s failed for %s correlation_id=%s: %v",
				sub.name, ev.Type, ev.CorrelationID, err)
			return err
		}
	}
	return nil
}

func (b *Bus) dispatchAsync(ctx context.Context, sub subscription, ev DomainEvent) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.containFailure(ctx, sub, ev, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := sub.handler(ctx, ev); err != nil {
			b.containFailure(ctx, sub, ev, err)
		}
	}()
}

// containFailure logs an async handler failure and re-emits it as an
// error_occurred event so observers can see it. The original caller is
// never interrupted.
func (b *Bus) containFailure(ctx context.Context, sub subscription, ev DomainEvent, err error) {
	b.logger.Error("async handler %s failed for %s conversation_id=%s correlation_id=%s: %v",
		sub.name, ev.Type, ev.ConversationID, ev.CorrelationID, err)
	if ev.Type == ErrorOccurred {
		return // avoid error-event loops
	}
	errEv := ev.Derive(ErrorOccurred, sub.name).
		With("error", err.Error()).
		With("failed_event", string(ev.Type))
	if pubErr := b.Publish(ctx, errEv); pubErr != nil {
		b.logger.Error("error event publish failed: %v", pubErr)
	}
}

// Wait blocks until all in-flight async handlers have finished. Intended
// for tests and graceful shutdown.
func (b *Bus) Wait() { b.wg.Wait() }
