package turn

import (
	"context"
	"sync"
	"time"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
	"github.com/convoq/convoq/policy"
)

// Options holds dependency and configuration overrides for a Coordinator.
type Options struct {
	// CacheTTL bounds how long a derived turn state may be served without
	// refolding the log. Kept short; every append invalidates it anyway.
	CacheTTL time.Duration

	// States optionally persists the derived state for policies that want
	// it. Persistence failures degrade to log-only operation.
	States core.TurnStateStore

	// Typing clears stale indicators on transitions. Optional.
	Typing core.TypingStore

	// Broadcaster receives every transition. Defaults to NoOp; a transition
	// broadcast is never skipped, even when persistence fails.
	Broadcaster core.Broadcaster

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Coordinator answers "who may speak now" for one conversation and drives
// every turn transition's side effects. Safe for concurrent use.
type Coordinator struct {
	conversationID string
	policy         policy.TurnPolicy

	events       core.EventStore
	participants core.ParticipantStore
	states       core.TurnStateStore
	typing       core.TypingStore
	broadcaster  core.Broadcaster
	logger       logging.Logger
	cacheTTL     time.Duration

	mu       sync.Mutex
	cached   core.TurnState
	cachedAt time.Time
	hasCache bool
}

// NewCoordinator constructs a Coordinator for one conversation.
func NewCoordinator(
	conversationID string,
	pol policy.TurnPolicy,
	events core.EventStore,
	participants core.ParticipantStore,
	optFns ...func(o *Options),
) *Coordinator {
	opts := Options{
		CacheTTL:    3 * time.Second,
		Broadcaster: core.NoOpBroadcaster{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		conversationID: conversationID,
		policy:         pol,
		events:         events,
		participants:   participants,
		states:         opts.States,
		typing:         opts.Typing,
		broadcaster:    opts.Broadcaster,
		logger:         opts.Logger,
		cacheTTL:       opts.CacheTTL,
	}
}

// Policy returns the active turn policy.
func (c *Coordinator) Policy() policy.TurnPolicy { return c.policy }

// CurrentTurn returns the turn state, serving the cached copy while fresh
// and refolding the event log otherwise.
func (c *Coordinator) CurrentTurn(ctx context.Context) (core.TurnState, error) {
	c.mu.Lock()
	if c.hasCache && time.Since(c.cachedAt) < c.cacheTTL {
		state := c.cached
		c.mu.Unlock()
		return state, nil
	}
	c.mu.Unlock()
	return c.recompute(ctx)
}

// CanUserSendMessage reports whether userID may send a message right now.
// The decision always consults the live event log so a stale cache can never
// wrongly accept a message.
func (c *Coordinator) CanUserSendMessage(ctx context.Context, userID string) (bool, error) {
	events, roster, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	state := c.fold(events, roster)
	return c.policy.CanSpeak(userID, state, events, roster), nil
}

// InitializeFirstTurn derives and applies the opening turn state for a new
// conversation.
func (c *Coordinator) InitializeFirstTurn(ctx context.Context) (core.TurnState, error) {
	roster, err := c.participants.ListParticipants(ctx, c.conversationID)
	if err != nil {
		return core.TurnState{}, &core.StorageError{Op: "list participants", Err: err}
	}
	state := c.policy.InitializeFirstTurn(roster)
	c.applyTransition(ctx, state, roster, false)
	return state, nil
}

// AdvanceAfter recomputes turn state after ev was appended and applies the
// transition side effects. Recompute happens on every write so the cache can
// never silently drift from the log.
func (c *Coordinator) AdvanceAfter(ctx context.Context, ev core.ConversationEvent) (core.TurnState, error) {
	events, roster, err := c.load(ctx)
	if err != nil {
		return core.TurnState{}, err
	}
	state := c.fold(events, roster)
	c.applyTransition(ctx, state, roster, false)
	if cl, ok := c.logger.(*logging.ConvoLogger); ok {
		cl.LogTurnTransition(string(c.policy.Mode()), state.NextSpeakerID, ev.Sequence)
	} else {
		c.logger.Debug("turn advanced conversation_id=%s next_speaker=%s after_sequence=%d",
			c.conversationID, state.NextSpeakerID, ev.Sequence)
	}
	return state, nil
}

// Reset unconditionally hands the turn to toUserID (or the first participant
// when empty) without consulting the event log. This is the operator
// recovery path for a conversation stuck on a crashed assistant call; it
// clears every typing indicator and broadcasts so all clients converge.
func (c *Coordinator) Reset(ctx context.Context, toUserID string) (core.TurnState, error) {
	roster, err := c.participants.ListParticipants(ctx, c.conversationID)
	if err != nil {
		return core.TurnState{}, &core.StorageError{Op: "list participants", Err: err}
	}
	var state core.TurnState
	if toUserID != "" {
		p, ok := roster.ByID(toUserID)
		if !ok {
			return core.TurnState{}, &core.TurnViolationError{UserID: toUserID}
		}
		state = core.TurnState{NextSpeakerID: p.ID, NextRole: p.Role}
	} else {
		first, ok := roster.First()
		if !ok {
			return core.TurnState{}, core.ErrConversationNotFound
		}
		state = core.TurnState{NextSpeakerID: first.ID, NextRole: first.Role}
	}
	c.applyTransition(ctx, state, roster, true)
	c.logger.Info("turn reset conversation_id=%s next_speaker=%s", c.conversationID, state.NextSpeakerID)
	return state, nil
}

// Reconcile drops the cache and any persisted copy in favor of a fresh fold
// of the event log. Returns the reconstructed state.
func (c *Coordinator) Reconcile(ctx context.Context) (core.TurnState, error) {
	c.Invalidate()
	return c.recompute(ctx)
}

// Invalidate drops the cached state so the next read refolds the log.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.hasCache = false
	c.mu.Unlock()
}

// Describe renders the human-readable status of the current turn.
func (c *Coordinator) Describe(ctx context.Context) (string, error) {
	events, roster, err := c.load(ctx)
	if err != nil {
		return "", err
	}
	return c.policy.Describe(c.fold(events, roster), roster), nil
}

func (c *Coordinator) load(ctx context.Context) ([]core.ConversationEvent, core.Roster, error) {
	events, err := c.events.ListEvents(ctx, c.conversationID)
	if err != nil {
		return nil, nil, &core.StorageError{Op: "list events", Err: err}
	}
	roster, err := c.participants.ListParticipants(ctx, c.conversationID)
	if err != nil {
		return nil, nil, &core.StorageError{Op: "list participants", Err: err}
	}
	return events, roster, nil
}

func (c *Coordinator) fold(events []core.ConversationEvent, roster core.Roster) core.TurnState {
	if _, any := core.LastMessage(events); !any {
		return c.policy.InitializeFirstTurn(roster)
	}
	return c.policy.CalculateNextTurn(events, roster)
}

func (c *Coordinator) recompute(ctx context.Context) (core.TurnState, error) {
	events, roster, err := c.load(ctx)
	if err != nil {
		return core.TurnState{}, err
	}
	state := c.fold(events, roster)
	c.healPersisted(ctx, state)
	c.setCache(state)
	return state, nil
}

// healPersisted checks the persisted copy against the fold. The log is the
// authority: a missing, stale or corrupted persisted state is overwritten
// with the folded one on the next read.
func (c *Coordinator) healPersisted(ctx context.Context, state core.TurnState) {
	if c.states == nil || !c.policy.PersistsState() {
		return
	}
	persisted, found, err := c.states.LoadTurnState(ctx, c.conversationID)
	if err != nil {
		c.logger.Warn("turn state load failed conversation_id=%s: %v", c.conversationID, err)
		return
	}
	if found && persisted == state {
		return
	}
	if found {
		c.logger.Warn("persisted turn state diverged from event log conversation_id=%s (had %q, folded %q), overwriting",
			c.conversationID, persisted.NextSpeakerID, state.NextSpeakerID)
	}
	if err := c.states.SaveTurnState(ctx, c.conversationID, state); err != nil {
		c.logger.Warn("turn state persist failed conversation_id=%s: %v", c.conversationID, err)
	}
}

func (c *Coordinator) setCache(state core.TurnState) {
	c.mu.Lock()
	c.cached = state
	c.cachedAt = time.Now()
	c.hasCache = true
	c.mu.Unlock()
}

// applyTransition performs the three transition side effects. Persistence
// and typing cleanup are best-effort; the broadcast is never skipped so
// clients still see an advisory update under storage degradation.
func (c *Coordinator) applyTransition(ctx context.Context, state core.TurnState, roster core.Roster, resetAll bool) {
	c.setCache(state)

	if c.states != nil && c.policy.PersistsState() {
		if err := c.states.SaveTurnState(ctx, c.conversationID, state); err != nil {
			c.logger.Warn("turn state persist failed conversation_id=%s: %v", c.conversationID, err)
		}
	}

	c.clearTyping(ctx, state, resetAll)

	payload := map[string]any{
		"next_speaker_id": state.NextSpeakerID,
		"next_role":       state.NextRole,
		"description":     c.policy.Describe(state, roster),
	}
	if err := c.broadcaster.Broadcast(ctx, c.conversationID, core.BroadcastTurnChanged, payload); err != nil {
		c.logger.Warn("turn change broadcast failed conversation_id=%s: %v", c.conversationID, err)
	}
}

// clearTyping removes typing indicators belonging to anyone other than the
// new speaker (or everyone on reset), emitting typing_stopped for each.
func (c *Coordinator) clearTyping(ctx context.Context, state core.TurnState, all bool) {
	if c.typing == nil {
		return
	}
	typers, err := c.typing.ActiveTypers(ctx, c.conversationID)
	if err != nil {
		c.logger.Warn("typing lookup failed conversation_id=%s: %v", c.conversationID, err)
		return
	}
	for _, userID := range typers {
		if !all && userID == state.NextSpeakerID {
			continue
		}
		if err := c.typing.ClearTyping(ctx, c.conversationID, userID); err != nil {
			c.logger.Warn("typing clear failed conversation_id=%s user_id=%s: %v", c.conversationID, userID, err)
			continue
		}
		_ = c.broadcaster.Broadcast(ctx, c.conversationID, core.BroadcastTypingStopped, map[string]any{"user_id": userID})
	}
}
