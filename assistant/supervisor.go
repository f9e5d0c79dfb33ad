package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
)

// ErrDuplicateTrigger is returned when a generation for the same correlation
// id is already in flight. The duplicate is dropped, not queued.
var ErrDuplicateTrigger = errors.New("generation already in flight for this trigger")

// Options configures a Supervisor.
type Options struct {
	// ResponseTimeout bounds one whole generation, submission through fetch.
	ResponseTimeout time.Duration

	// PollInterval paces generation status checks.
	PollInterval time.Duration

	// Retry governs transient submission failures.
	Retry RetryPolicy

	// TypingTTL bounds the assistant typing indicator so a crashed
	// generation cannot leave it stuck.
	TypingTTL time.Duration

	// SystemPrompt seeds every new thread. Optional.
	SystemPrompt string

	// Typing is optional; without it no indicator is managed.
	Typing core.TypingStore

	// Broadcaster defaults to NoOp.
	Broadcaster core.Broadcaster

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Supervisor drives assistant reply generation against a Backend. One
// Supervisor serves all conversations; per-conversation thread ids and
// prompt sync positions are tracked internally. Safe for concurrent use.
type Supervisor struct {
	backend Backend
	events  core.EventStore
	opts    Options

	mu       sync.Mutex
	threads  map[string]string // conversation id -> thread id
	syncedTo map[string]int64  // conversation id -> last sequence pushed to the thread
	inflight map[string]struct{}
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(backend Backend, events core.EventStore, optFns ...func(o *Options)) *Supervisor {
	opts := Options{
		ResponseTimeout: 45 * time.Second,
		PollInterval:    500 * time.Millisecond,
		Retry:           DefaultRetryPolicy(),
		TypingTTL:       60 * time.Second,
		Broadcaster:     core.NoOpBroadcaster{},
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Supervisor{
		backend:  backend,
		events:   events,
		opts:     opts,
		threads:  make(map[string]string),
		syncedTo: make(map[string]int64),
		inflight: make(map[string]struct{}),
	}
}

type generationResult struct {
	event core.ConversationEvent
	err   error
}

// Respond generates the assistant's reply for the conversation, appends it to
// the event log and returns the appended event. correlationID de-duplicates
// concurrent triggers for the same inbound message. On timeout the returned
// error is core.ErrGenerationTimeout and no message is appended.
func (s *Supervisor) Respond(ctx context.Context, conversationID, correlationID string) (core.ConversationEvent, error) {
	if correlationID != "" {
		s.mu.Lock()
		if _, dup := s.inflight[correlationID]; dup {
			s.mu.Unlock()
			return core.ConversationEvent{}, ErrDuplicateTrigger
		}
		s.inflight[correlationID] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, correlationID)
			s.mu.Unlock()
		}()
	}

	replyID := core.NewID()
	started := time.Now()

	s.startTyping(ctx, conversationID)
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() { s.stopTyping(conversationID) })
	}
	defer cleanup()

	genCtx, cancel := context.WithTimeout(ctx, s.opts.ResponseTimeout)
	defer cancel()

	done := make(chan generationResult, 1)
	go func() {
		ev, err := s.generate(genCtx, conversationID)
		done <- generationResult{event: ev, err: err}
	}()

	var res generationResult
	select {
	case res = <-done:
	case <-genCtx.Done():
		cleanup()
		err := core.ErrGenerationTimeout
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.logAttempt(conversationID, correlationID, replyID, time.Since(started), false, err)
		return core.ConversationEvent{}, err
	}

	cleanup()
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = core.ErrGenerationTimeout
		}
		s.logAttempt(conversationID, correlationID, replyID, time.Since(started), false, res.err)
		return core.ConversationEvent{}, res.err
	}

	s.logAttempt(conversationID, correlationID, replyID, time.Since(started), true, nil)
	s.broadcastReply(ctx, res.event)
	return res.event, nil
}

// generate runs the backend pipeline: thread bootstrap, prompt sync,
// submission with retry, polling, fetch, append.
func (s *Supervisor) generate(ctx context.Context, conversationID string) (core.ConversationEvent, error) {
	threadID, err := s.ensureThread(ctx, conversationID)
	if err != nil {
		return core.ConversationEvent{}, err
	}
	if err := s.syncPrompt(ctx, conversationID, threadID); err != nil {
		return core.ConversationEvent{}, err
	}

	var generationID string
	err = s.opts.Retry.Do(ctx, "submit generation", s.opts.Logger, func() error {
		var submitErr error
		generationID, submitErr = s.backend.StartGeneration(ctx, threadID)
		return submitErr
	})
	if err != nil {
		return core.ConversationEvent{}, err
	}

	if err := s.awaitGeneration(ctx, threadID, generationID); err != nil {
		return core.ConversationEvent{}, err
	}

	reply, err := s.backend.LatestReply(ctx, threadID)
	if err != nil {
		return core.ConversationEvent{}, err
	}

	ev, err := s.events.AppendEvent(ctx, conversationID, core.EventMessage,
		core.MessagePayload{SenderID: core.AssistantID, Content: reply})
	if err != nil {
		return core.ConversationEvent{}, &core.StorageError{Op: "append assistant message", Err: err}
	}
	s.mu.Lock()
	if ev.Sequence > s.syncedTo[conversationID] {
		s.syncedTo[conversationID] = ev.Sequence
	}
	s.mu.Unlock()
	return ev, nil
}

func (s *Supervisor) ensureThread(ctx context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	threadID, ok := s.threads[conversationID]
	s.mu.Unlock()
	if ok {
		return threadID, nil
	}

	err := s.opts.Retry.Do(ctx, "create thread", s.opts.Logger, func() error {
		var createErr error
		threadID, createErr = s.backend.CreateThread(ctx)
		return createErr
	})
	if err != nil {
		return "", err
	}
	if s.opts.SystemPrompt != "" {
		if err := s.backend.AppendMessage(ctx, threadID, PromptMessage{Role: "system", Content: s.opts.SystemPrompt}); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	s.threads[conversationID] = threadID
	s.syncedTo[conversationID] = 0
	s.mu.Unlock()
	return threadID, nil
}

// syncPrompt pushes every message the thread has not seen yet. The assistant's
// own replies are recorded by the backend when they complete, so only other
// senders are appended here.
func (s *Supervisor) syncPrompt(ctx context.Context, conversationID, threadID string) error {
	events, err := s.events.ListEvents(ctx, conversationID)
	if err != nil {
		return &core.StorageError{Op: "list events", Err: err}
	}

	s.mu.Lock()
	from := s.syncedTo[conversationID]
	s.mu.Unlock()

	var high int64 = from
	for _, ev := range core.Messages(events) {
		if ev.Sequence > high {
			high = ev.Sequence
		}
		if ev.Sequence <= from {
			continue
		}
		mp, ok := ev.Payload.(core.MessagePayload)
		if !ok || mp.SenderID == core.AssistantID {
			continue
		}
		msg := PromptMessage{Role: "user", SenderID: mp.SenderID, Content: mp.Content}
		if err := s.backend.AppendMessage(ctx, threadID, msg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.syncedTo[conversationID] = high
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) awaitGeneration(ctx context.Context, threadID, generationID string) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		state, err := s.backend.PollGeneration(ctx, threadID, generationID)
		if state == StateFailed {
			if err == nil {
				err = errors.New("generation failed")
			}
			return err
		}
		if err != nil {
			if core.IsTransient(err) {
				s.opts.Logger.Warn("generation poll failed, continuing: %v", err)
			} else {
				return err
			}
		}
		if state == StateCompleted {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) startTyping(ctx context.Context, conversationID string) {
	if s.opts.Typing == nil {
		return
	}
	if err := s.opts.Typing.SetTyping(ctx, conversationID, core.AssistantID, s.opts.TypingTTL); err != nil {
		s.opts.Logger.Warn("typing set failed conversation_id=%s: %v", conversationID, err)
		return
	}
	_ = s.opts.Broadcaster.Broadcast(ctx, conversationID, core.BroadcastTypingStarted,
		map[string]any{"user_id": core.AssistantID})
}

// stopTyping uses a background context so cleanup still runs after the
// generation context is dead. ClearTyping is idempotent; the completion and
// timeout paths may both get here.
func (s *Supervisor) stopTyping(conversationID string) {
	if s.opts.Typing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Typing.ClearTyping(ctx, conversationID, core.AssistantID); err != nil {
		s.opts.Logger.Warn("typing clear failed conversation_id=%s: %v", conversationID, err)
		return
	}
	_ = s.opts.Broadcaster.Broadcast(ctx, conversationID, core.BroadcastTypingStopped,
		map[string]any{"user_id": core.AssistantID})
}

func (s *Supervisor) broadcastReply(ctx context.Context, ev core.ConversationEvent) {
	payload := map[string]any{"event_id": ev.ID, "sequence": ev.Sequence}
	if mp, ok := ev.Payload.(core.MessagePayload); ok {
		payload["sender_id"] = mp.SenderID
		payload["content"] = mp.Content
	}
	if err := s.opts.Broadcaster.Broadcast(ctx, ev.ConversationID, core.BroadcastNewMessage, payload); err != nil {
		s.opts.Logger.Warn("reply broadcast failed conversation_id=%s: %v", ev.ConversationID, err)
	}
}

func (s *Supervisor) logAttempt(conversationID, correlationID, replyID string, dur time.Duration, success bool, err error) {
	if cl, ok := s.opts.Logger.(*logging.ConvoLogger); ok {
		cl.WithConversation(conversationID, correlationID).LogGenerationAttempt(replyID, dur, success, err)
		return
	}
	if success {
		s.opts.Logger.Info("generation completed conversation_id=%s reply_id=%s duration=%s", conversationID, replyID, dur)
		return
	}
	s.opts.Logger.Error("generation failed conversation_id=%s reply_id=%s duration=%s: %v", conversationID, replyID, dur, err)
}

// ForgetConversation drops the cached thread binding, forcing a fresh thread
// on the next generation. Used when a conversation's context must be rebuilt.
func (s *Supervisor) ForgetConversation(conversationID string) {
	s.mu.Lock()
	delete(s.threads, conversationID)
	delete(s.syncedTo, conversationID)
	s.mu.Unlock()
}
