// Package convoq provides a high-level façade over the conversation engine
// for coordinating turn-taking in multi-party human/AI conversations. Most
// applications interact with this package by:
//  1. Creating a Convoq via New() (optionally overriding the default
//     in-memory stores, broadcaster and AI backend)
//  2. Creating conversations and joining participants
//  3. Sending messages; the engine enforces the turn policy, persists the
//     event log and triggers assistant replies where the policy demands one
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a Postgres store, a
// Redis typing store, a websocket broadcaster and a real AI backend.
package convoq

import (
	"context"

	"github.com/convoq/convoq/assistant"
	"github.com/convoq/convoq/bus"
	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/engine"
	"github.com/convoq/convoq/logging"
	"github.com/convoq/convoq/presence"
	"github.com/convoq/convoq/store"
)

// Options configures the Convoq instance.
type Options struct {
	// Store persists conversations, events, participants and settings.
	// Defaults to an in-memory implementation.
	Store core.ConversationStore

	// TurnStates optionally persists derived turn state. Defaults to the
	// same in-memory store; set nil to keep state purely log-derived.
	TurnStates core.TurnStateStore

	// Typing holds ephemeral typing indicators. Defaults to in-memory.
	Typing core.TypingStore

	// Broadcaster fans realtime updates out to clients. Defaults to NoOp.
	Broadcaster core.Broadcaster

	// Backend generates assistant replies. Defaults to MockBackend so local
	// runs work without credentials.
	Backend assistant.Backend

	// Supervisor overrides assistant generation tuning (timeout, retry,
	// system prompt). Applied to the Supervisor built around Backend.
	Supervisor []func(o *assistant.Options)

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Convoq is the high-level façade aggregating the engine and its services.
type Convoq struct {
	opts   Options
	bus    *bus.Bus
	engine *engine.Engine
}

// New creates a Convoq instance with optional overrides. Any unset service
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Convoq {
	mem := store.NewInMemoryStore()
	opts := Options{
		Store:       mem,
		TurnStates:  mem,
		Typing:      presence.NewInMemoryStore(),
		Broadcaster: core.NoOpBroadcaster{},
		Backend:     assistant.NewMockBackend(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := bus.New(func(o *bus.Options) { o.Logger = opts.Logger })

	supOpts := append([]func(o *assistant.Options){func(o *assistant.Options) {
		o.Typing = opts.Typing
		o.Broadcaster = opts.Broadcaster
		o.Logger = opts.Logger
	}}, opts.Supervisor...)
	sup := assistant.NewSupervisor(opts.Backend, opts.Store, supOpts...)

	eng := engine.New(opts.Store, opts.TurnStates, b, func(o *engine.Options) {
		o.Supervisor = sup
		o.Typing = opts.Typing
		o.Broadcaster = opts.Broadcaster
		o.Logger = opts.Logger
	})

	return &Convoq{opts: opts, bus: b, engine: eng}
}

// Engine exposes the underlying engine for advanced wiring.
func (c *Convoq) Engine() *engine.Engine { return c.engine }

// Bus exposes the domain event bus for additional observers.
func (c *Convoq) Bus() *bus.Bus { return c.bus }

// CreateConversation creates a conversation with the given settings and
// returns its id. The assistant seat is present from the start.
func (c *Convoq) CreateConversation(ctx context.Context, settings core.Settings) (string, error) {
	return c.engine.CreateConversation(ctx, settings)
}

// Join adds a participant to a conversation.
func (c *Convoq) Join(ctx context.Context, conversationID string, p core.Participant) error {
	return c.engine.JoinConversation(ctx, conversationID, p)
}

// Send runs the inbound message pipeline: turn validation, persistence, turn
// advancement, broadcast and, when owed, assistant reply generation.
func (c *Convoq) Send(ctx context.Context, conversationID, senderID, content string) (engine.MessageReceipt, error) {
	return c.engine.ProcessIncomingMessage(ctx, conversationID, senderID, content)
}

// State reports the conversation's turn state from userID's perspective.
func (c *Convoq) State(ctx context.Context, conversationID, userID string) (engine.ConversationState, error) {
	return c.engine.GetConversationState(ctx, conversationID, userID)
}

// MarkComplete records userID's vote to end the conversation.
func (c *Convoq) MarkComplete(ctx context.Context, conversationID, userID, completionType string) (core.CompletionStatus, error) {
	return c.engine.MarkComplete(ctx, conversationID, userID, completionType)
}

// ResetTurn hands the floor to toUserID unconditionally. Operator recovery.
func (c *Convoq) ResetTurn(ctx context.Context, conversationID, toUserID string) (core.TurnState, error) {
	return c.engine.ResetTurn(ctx, conversationID, toUserID)
}

// SetTurnMode switches the conversation's turn policy.
func (c *Convoq) SetTurnMode(ctx context.Context, conversationID string, mode core.TurnPolicyMode) error {
	return c.engine.SetTurnMode(ctx, conversationID, mode)
}

// Typing records a typing indicator for userID.
func (c *Convoq) Typing(ctx context.Context, conversationID, userID string) error {
	return c.engine.SetTyping(ctx, conversationID, userID)
}

// Wait blocks until in-flight async pipeline work (broadcasts, assistant
// replies) has drained. Intended for tests and graceful shutdown.
func (c *Convoq) Wait() { c.bus.Wait() }
