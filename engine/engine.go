package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/convoq/convoq/assistant"
	"github.com/convoq/convoq/bus"
	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
	"github.com/convoq/convoq/turn"
)

// Pipeline stage priorities for the message_received chain. Validation must
// run before storage: a rejected message never reaches the log.
const (
	prioValidate = 10
	prioStore    = 20
	prioAdvance  = 30
)

// MessageReceipt is the synchronous outcome of processing one inbound message.
type MessageReceipt struct {
	Event         core.ConversationEvent
	NextSpeakerID string
	NextRole      core.Role
	Description   string
	AIWillRespond bool
	CorrelationID string
}

// ConversationState is the read-model answer for one user's view of a
// conversation.
type ConversationState struct {
	Mode          core.TurnPolicyMode
	CanSend       bool
	NextSpeakerID string
	NextRole      core.Role
	Description   string
	ActiveTypers  []string
	Completion    core.CompletionStatus
}

// Options configures an Engine.
type Options struct {
	// Supervisor generates assistant replies. Without one the engine never
	// triggers generation; turn state still treats the assistant seat as any
	// other participant.
	Supervisor *assistant.Supervisor

	// Typing feeds the read model and is cleared on turn transitions.
	Typing core.TypingStore

	// Broadcaster defaults to NoOp.
	Broadcaster core.Broadcaster

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Manager overrides let callers tune coordinator construction.
	Coordinator []func(o *turn.Options)
}

// Engine is the orchestration entry point. One Engine serves all
// conversations over a single store and bus. Safe for concurrent use.
type Engine struct {
	store       core.ConversationStore
	states      core.TurnStateStore
	bus         *bus.Bus
	turns       *turn.Manager
	supervisor  *assistant.Supervisor
	typing      core.TypingStore
	broadcaster core.Broadcaster
	logger      logging.Logger

	locks sync.Map // conversation id -> *sync.Mutex
}

// lockConversation serializes write paths per conversation. The
// check-append-recompute sequence must not interleave: two senders
// validating against the same log snapshot would both be accepted.
func (e *Engine) lockConversation(conversationID string) func() {
	v, _ := e.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// New constructs an Engine over the given store and registers the pipeline
// handlers on its bus. The states store is optional; pass nil to keep turn
// state purely log-derived.
func New(store core.ConversationStore, states core.TurnStateStore, b *bus.Bus, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Broadcaster: core.NoOpBroadcaster{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	turns := turn.NewManager(store, store, store, func(o *turn.ManagerOptions) {
		o.States = states
		o.Typing = opts.Typing
		o.Broadcaster = opts.Broadcaster
		o.Logger = opts.Logger
		o.Coordinator = opts.Coordinator
	})

	e := &Engine{
		store:       store,
		states:      states,
		bus:         b,
		turns:       turns,
		supervisor:  opts.Supervisor,
		typing:      opts.Typing,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger,
	}
	e.register()
	return e
}

// Bus exposes the engine's bus for additional observers.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Turns exposes the coordinator manager, mainly for tests and diagnostics.
func (e *Engine) Turns() *turn.Manager { return e.turns }

func (e *Engine) register() {
	e.bus.Subscribe(bus.MessageReceived, "validate_turn", prioValidate, e.handleValidate)
	e.bus.Subscribe(bus.MessageReceived, "store_message", prioStore, e.handleStore)
	e.bus.Subscribe(bus.MessageReceived, "advance_turn", prioAdvance, e.handleAdvance)

	e.bus.SubscribeAsync(bus.MessageStored, "broadcast_message", 10, e.handleBroadcastStored)
	e.bus.SubscribeAsync(bus.MessageStored, "trigger_assistant", 20, e.handleTriggerAssistant)

	e.bus.SubscribeAsync(bus.AIResponseRequested, "generate_reply", 10, e.handleGenerateReply)
	e.bus.Subscribe(bus.AIResponseCompleted, "advance_turn_after_reply", 10, e.handleReplyStored)
}

// CreateConversation creates an empty conversation with the assistant seat
// already present and the opening turn state initialized.
func (e *Engine) CreateConversation(ctx context.Context, settings core.Settings) (string, error) {
	if !settings.TurnMode.Valid() {
		settings.TurnMode = core.DefaultMode
	}
	conversationID := core.NewID()
	if err := e.store.CreateConversation(ctx, conversationID, settings); err != nil {
		return "", &core.StorageError{Op: "create conversation", Err: err}
	}
	if err := e.store.AddParticipant(ctx, conversationID, core.NewAssistantSeat()); err != nil {
		return "", &core.StorageError{Op: "add assistant seat", Err: err}
	}
	e.logger.Info("conversation created conversation_id=%s mode=%s", conversationID, settings.TurnMode)
	return conversationID, nil
}

// JoinConversation adds a participant, appends the join event and broadcasts
// the arrival. Re-joining an existing participant is a no-op on the roster
// but still refreshes turn state for policies that depend on roster size.
func (e *Engine) JoinConversation(ctx context.Context, conversationID string, p core.Participant) error {
	if p.ID == "" {
		return errors.New("participant id required")
	}
	if p.Role == "" {
		p.Role = core.RoleHuman
	}

	roster, err := e.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return &core.StorageError{Op: "list participants", Err: err}
	}
	rejoin := roster.Contains(p.ID)

	if err := e.store.AddParticipant(ctx, conversationID, p); err != nil {
		return &core.StorageError{Op: "add participant", Err: err}
	}
	if !rejoin {
		_, err = e.store.AppendEvent(ctx, conversationID, core.EventParticipantJoined,
			core.JoinPayload{ParticipantID: p.ID, DisplayName: p.DisplayName, Role: p.Role})
		if err != nil {
			return &core.StorageError{Op: "append join event", Err: err}
		}
	}

	coord, err := e.turns.For(ctx, conversationID)
	if err != nil {
		return err
	}
	coord.Invalidate()
	if _, err := coord.Reconcile(ctx); err != nil {
		e.logger.Warn("turn reconcile after join failed conversation_id=%s: %v", conversationID, err)
	}

	_ = e.broadcaster.Broadcast(ctx, conversationID, core.BroadcastParticipantJoin, map[string]any{
		"participant_id": p.ID,
		"display_name":   p.DisplayName,
		"role":           p.Role,
	})
	joined := bus.NewDomainEvent(bus.ParticipantJoined, conversationID, p.ID, "", "engine").
		With("display_name", p.DisplayName).
		With("role", string(p.Role))
	if err := e.bus.Publish(ctx, joined); err != nil {
		e.logger.Warn("join event publish failed conversation_id=%s: %v", conversationID, err)
	}
	return nil
}

// ProcessIncomingMessage runs the full inbound pipeline for one message. On
// acceptance the returned receipt carries the stored event, the new turn
// state and whether an assistant reply was triggered. A turn violation is
// returned as *core.TurnViolationError with nothing stored.
func (e *Engine) ProcessIncomingMessage(ctx context.Context, conversationID, senderID, content string) (MessageReceipt, error) {
	if strings.TrimSpace(content) == "" {
		return MessageReceipt{}, errors.New("empty message content")
	}

	unlock := e.lockConversation(conversationID)
	defer unlock()

	receipt := &MessageReceipt{}
	ev := bus.NewDomainEvent(bus.MessageReceived, conversationID, senderID, "", "engine").
		With("content", content).
		With("receipt", receipt)
	receipt.CorrelationID = ev.CorrelationID

	err := e.bus.Publish(ctx, ev)

	// A message that reached the log proceeds downstream even when a later
	// stage failed; only rejection before storage drops it.
	if receipt.Event.ID != "" {
		stored := ev.Derive(bus.MessageStored, "engine").
			With("receipt", receipt).
			With("event_id", receipt.Event.ID)
		if pubErr := e.bus.Publish(ctx, stored); pubErr != nil {
			e.logger.Warn("post-store publish failed conversation_id=%s: %v", conversationID, pubErr)
		}
	}
	return *receipt, err
}

// GetConversationState answers "may userID speak, and what is everyone
// waiting for" from the live log.
func (e *Engine) GetConversationState(ctx context.Context, conversationID, userID string) (ConversationState, error) {
	settings, err := e.store.GetSettings(ctx, conversationID)
	if err != nil {
		return ConversationState{}, &core.StorageError{Op: "get settings", Err: err}
	}
	coord, err := e.turns.For(ctx, conversationID)
	if err != nil {
		return ConversationState{}, err
	}

	state, err := coord.CurrentTurn(ctx)
	if err != nil {
		return ConversationState{}, err
	}
	canSend, err := coord.CanUserSendMessage(ctx, userID)
	if err != nil {
		return ConversationState{}, err
	}
	desc, err := coord.Describe(ctx)
	if err != nil {
		return ConversationState{}, err
	}

	events, err := e.store.ListEvents(ctx, conversationID)
	if err != nil {
		return ConversationState{}, &core.StorageError{Op: "list events", Err: err}
	}
	roster, err := e.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return ConversationState{}, &core.StorageError{Op: "list participants", Err: err}
	}

	mode := settings.TurnMode
	if !mode.Valid() {
		mode = coord.Policy().Mode()
	}
	cs := ConversationState{
		Mode:          mode,
		CanSend:       canSend,
		NextSpeakerID: state.NextSpeakerID,
		NextRole:      state.NextRole,
		Description:   desc,
		Completion:    core.AggregateCompletion(events, roster),
	}
	if e.typing != nil {
		if typers, err := e.typing.ActiveTypers(ctx, conversationID); err == nil {
			cs.ActiveTypers = typers
		}
	}
	return cs, nil
}

// MarkComplete records userID's completion vote. Marking twice is a no-op;
// the aggregated status is broadcast either way so late clients converge.
func (e *Engine) MarkComplete(ctx context.Context, conversationID, userID, completionType string) (core.CompletionStatus, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	roster, err := e.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return core.CompletionStatus{}, &core.StorageError{Op: "list participants", Err: err}
	}
	p, ok := roster.ByID(userID)
	if !ok || !p.Role.IsHuman() {
		return core.CompletionStatus{}, &core.TurnViolationError{UserID: userID}
	}

	events, err := e.store.ListEvents(ctx, conversationID)
	if err != nil {
		return core.CompletionStatus{}, &core.StorageError{Op: "list events", Err: err}
	}
	status := core.AggregateCompletion(events, roster)

	already := false
	for _, id := range status.CompletedIDs {
		if id == userID {
			already = true
			break
		}
	}
	if !already {
		_, err = e.store.AppendEvent(ctx, conversationID, core.EventCompletionMarked,
			core.CompletionPayload{ParticipantID: userID, CompletionType: completionType})
		if err != nil {
			return core.CompletionStatus{}, &core.StorageError{Op: "append completion", Err: err}
		}
		events, err = e.store.ListEvents(ctx, conversationID)
		if err != nil {
			return core.CompletionStatus{}, &core.StorageError{Op: "list events", Err: err}
		}
		status = core.AggregateCompletion(events, roster)
	}

	_ = e.broadcaster.Broadcast(ctx, conversationID, core.BroadcastCompletionStatus, status)
	marked := bus.NewDomainEvent(bus.CompletionMarked, conversationID, userID, "", "engine").
		With("completion_type", completionType).
		With("all_complete", status.AllComplete)
	if err := e.bus.Publish(ctx, marked); err != nil {
		e.logger.Warn("completion event publish failed conversation_id=%s: %v", conversationID, err)
	}
	return status, nil
}

// ResetTurn is the operator recovery path: hand the floor to toUserID (or the
// first human when empty) regardless of what the log says.
func (e *Engine) ResetTurn(ctx context.Context, conversationID, toUserID string) (core.TurnState, error) {
	coord, err := e.turns.For(ctx, conversationID)
	if err != nil {
		return core.TurnState{}, err
	}
	return coord.Reset(ctx, toUserID)
}

// SetTurnMode switches the conversation's policy. The coordinator is rebuilt,
// the turn state recomputed under the new policy, and the change broadcast.
func (e *Engine) SetTurnMode(ctx context.Context, conversationID string, mode core.TurnPolicyMode) error {
	if !mode.Valid() {
		return errors.New("unknown turn policy mode")
	}
	settings, err := e.store.GetSettings(ctx, conversationID)
	if err != nil {
		return &core.StorageError{Op: "get settings", Err: err}
	}
	if settings.TurnMode == mode {
		return nil
	}
	settings.TurnMode = mode
	if err := e.store.UpdateSettings(ctx, conversationID, settings); err != nil {
		return &core.StorageError{Op: "update settings", Err: err}
	}

	e.turns.Forget(conversationID)
	coord, err := e.turns.For(ctx, conversationID)
	if err != nil {
		return err
	}
	state, err := coord.Reconcile(ctx)
	if err != nil {
		return err
	}

	_ = e.broadcaster.Broadcast(ctx, conversationID, core.BroadcastSettingsChanged, map[string]any{
		"turn_mode":       mode,
		"next_speaker_id": state.NextSpeakerID,
	})
	changed := bus.NewDomainEvent(bus.SettingsChanged, conversationID, "", "", "engine").
		With("turn_mode", string(mode)).
		With("next_speaker_id", state.NextSpeakerID)
	if err := e.bus.Publish(ctx, changed); err != nil {
		e.logger.Warn("settings event publish failed conversation_id=%s: %v", conversationID, err)
	}
	e.logger.Info("turn mode changed conversation_id=%s mode=%s", conversationID, mode)
	return nil
}

// ReconcileTurn refolds the log and overwrites any persisted turn state.
// Exposed for operators and health checks.
func (e *Engine) ReconcileTurn(ctx context.Context, conversationID string) (core.TurnState, error) {
	coord, err := e.turns.For(ctx, conversationID)
	if err != nil {
		return core.TurnState{}, err
	}
	return coord.Reconcile(ctx)
}

// SetTyping records a human typing indicator and broadcasts it. The indicator
// expires on its own; a crashed client cannot leave it stuck.
func (e *Engine) SetTyping(ctx context.Context, conversationID, userID string) error {
	if e.typing == nil {
		return nil
	}
	if err := e.typing.SetTyping(ctx, conversationID, userID, 0); err != nil {
		return err
	}
	return e.broadcaster.Broadcast(ctx, conversationID, core.BroadcastTypingStarted, map[string]any{"user_id": userID})
}

// pipeline handlers

func receiptOf(ev bus.DomainEvent) *MessageReceipt {
	if r, ok := ev.Payload["receipt"].(*MessageReceipt); ok {
		return r
	}
	return &MessageReceipt{}
}

func (e *Engine) handleValidate(ctx context.Context, ev bus.DomainEvent) error {
	coord, err := e.turns.For(ctx, ev.ConversationID)
	if err != nil {
		return err
	}
	ok, err := coord.CanUserSendMessage(ctx, ev.ActorID)
	if err != nil {
		return err
	}
	if !ok {
		state, stateErr := coord.CurrentTurn(ctx)
		if stateErr != nil {
			state = core.TurnState{}
		}
		return &core.TurnViolationError{UserID: ev.ActorID, NextSpeakerID: state.NextSpeakerID}
	}
	return e.bus.Publish(ctx, ev.Derive(bus.MessageValidated, "engine"))
}

func (e *Engine) handleStore(ctx context.Context, ev bus.DomainEvent) error {
	stored, err := e.store.AppendEvent(ctx, ev.ConversationID, core.EventMessage,
		core.MessagePayload{SenderID: ev.ActorID, Content: ev.String("content")})
	if err != nil {
		return &core.StorageError{Op: "append message", Err: err}
	}
	receiptOf(ev).Event = stored
	return nil
}

func (e *Engine) handleAdvance(ctx context.Context, ev bus.DomainEvent) error {
	coord, err := e.turns.For(ctx, ev.ConversationID)
	if err != nil {
		return err
	}
	receipt := receiptOf(ev)
	state, err := coord.AdvanceAfter(ctx, receipt.Event)
	if err != nil {
		return err
	}
	receipt.NextSpeakerID = state.NextSpeakerID
	receipt.NextRole = state.NextRole
	if desc, err := coord.Describe(ctx); err == nil {
		receipt.Description = desc
	}

	trigger, err := e.shouldTrigger(ctx, coord, ev.ConversationID)
	if err != nil {
		return err
	}
	receipt.AIWillRespond = trigger && e.supervisor != nil
	return e.publishTurnChanged(ctx, ev, state)
}

// publishTurnChanged emits the domain event mirroring a turn transition so
// bus observers see the same chain stage clients see via the broadcast.
func (e *Engine) publishTurnChanged(ctx context.Context, cause bus.DomainEvent, state core.TurnState) error {
	return e.bus.Publish(ctx, cause.Derive(bus.TurnChanged, "engine").
		With("next_speaker_id", state.NextSpeakerID).
		With("next_role", string(state.NextRole)))
}

func (e *Engine) shouldTrigger(ctx context.Context, coord *turn.Coordinator, conversationID string) (bool, error) {
	events, err := e.store.ListEvents(ctx, conversationID)
	if err != nil {
		return false, &core.StorageError{Op: "list events", Err: err}
	}
	roster, err := e.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return false, &core.StorageError{Op: "list participants", Err: err}
	}
	return coord.Policy().ShouldTriggerAssistant(events, roster), nil
}

func (e *Engine) handleBroadcastStored(ctx context.Context, ev bus.DomainEvent) error {
	receipt := receiptOf(ev)
	if receipt.Event.ID == "" {
		return nil
	}
	return e.broadcaster.Broadcast(ctx, ev.ConversationID, core.BroadcastNewMessage, map[string]any{
		"event_id":  receipt.Event.ID,
		"sequence":  receipt.Event.Sequence,
		"sender_id": receipt.Event.SenderID(),
		"content":   receipt.Event.Text(),
	})
}

func (e *Engine) handleTriggerAssistant(ctx context.Context, ev bus.DomainEvent) error {
	receipt := receiptOf(ev)
	if !receipt.AIWillRespond {
		return nil
	}
	return e.bus.Publish(ctx, ev.Derive(bus.AIResponseRequested, "engine"))
}

func (e *Engine) handleGenerateReply(ctx context.Context, ev bus.DomainEvent) error {
	if e.supervisor == nil {
		return nil
	}
	reply, err := e.supervisor.Respond(ctx, ev.ConversationID, ev.CorrelationID)
	if errors.Is(err, assistant.ErrDuplicateTrigger) {
		return nil
	}
	if err != nil {
		failed := ev.Derive(bus.AIResponseFailed, "supervisor").With("error", err.Error())
		if pubErr := e.bus.Publish(ctx, failed); pubErr != nil {
			e.logger.Warn("failure event publish failed: %v", pubErr)
		}
		// Already surfaced through ai_response_failed; do not re-report.
		return nil
	}
	completed := ev.Derive(bus.AIResponseCompleted, "supervisor").
		With("event_id", reply.ID).
		With("reply", reply)
	return e.bus.Publish(ctx, completed)
}

func (e *Engine) handleReplyStored(ctx context.Context, ev bus.DomainEvent) error {
	reply, ok := ev.Payload["reply"].(core.ConversationEvent)
	if !ok {
		return nil
	}
	coord, err := e.turns.For(ctx, ev.ConversationID)
	if err != nil {
		return err
	}
	state, err := coord.AdvanceAfter(ctx, reply)
	if err != nil {
		return err
	}
	return e.publishTurnChanged(ctx, ev, state)
}
