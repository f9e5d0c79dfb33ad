package assistant

import (
	"sync"

	"github.com/convoq/convoq/core"
)

// generation is the adapter-local record of one submitted run.
type generation struct {
	state GenerationState
	err   error
}

type localThread struct {
	messages    []PromptMessage
	generations map[string]*generation
	lastReply   string
	hasReply    bool
}

// LocalThreads implements thread bookkeeping for backends whose provider API
// is stateless (one request per generation). Adapters snapshot the transcript
// when a generation starts and record the outcome through the returned
// resolver. Safe for concurrent use.
type LocalThreads struct {
	mu      sync.Mutex
	threads map[string]*localThread
}

// NewLocalThreads constructs an empty registry.
func NewLocalThreads() *LocalThreads {
	return &LocalThreads{threads: make(map[string]*localThread)}
}

// Create mints a new thread id.
func (l *LocalThreads) Create() string {
	id := core.NewID()
	l.mu.Lock()
	l.threads[id] = &localThread{generations: make(map[string]*generation)}
	l.mu.Unlock()
	return id
}

// Append adds a transcript entry.
func (l *LocalThreads) Append(threadID string, msg PromptMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[threadID]
	if !ok {
		return ErrUnknownThread
	}
	t.messages = append(t.messages, msg)
	return nil
}

// Snapshot returns a copy of the transcript.
func (l *LocalThreads) Snapshot(threadID string) ([]PromptMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[threadID]
	if !ok {
		return nil, ErrUnknownThread
	}
	out := make([]PromptMessage, len(t.messages))
	copy(out, t.messages)
	return out, nil
}

// Begin registers a running generation and returns its id plus a resolver.
// Resolving with a nil error records the reply on the transcript and marks
// the generation completed; a non-nil error marks it failed.
func (l *LocalThreads) Begin(threadID string) (string, func(reply string, err error), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[threadID]
	if !ok {
		return "", nil, ErrUnknownThread
	}
	id := core.NewID()
	gen := &generation{state: StateRunning}
	t.generations[id] = gen

	resolve := func(reply string, err error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen.state.Terminal() {
			return
		}
		if err != nil {
			gen.state = StateFailed
			gen.err = err
			return
		}
		gen.state = StateCompleted
		t.messages = append(t.messages, PromptMessage{Role: "assistant", SenderID: core.AssistantID, Content: reply})
		t.lastReply = reply
		t.hasReply = true
	}
	return id, resolve, nil
}

// Poll reports a generation's state, carrying the failure cause when failed.
func (l *LocalThreads) Poll(threadID, generationID string) (GenerationState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[threadID]
	if !ok {
		return StateFailed, ErrUnknownThread
	}
	gen, ok := t.generations[generationID]
	if !ok {
		return StateFailed, ErrUnknownGeneration
	}
	if gen.state == StateFailed {
		return StateFailed, gen.err
	}
	return gen.state, nil
}

// Reply returns the newest assistant reply on the thread.
func (l *LocalThreads) Reply(threadID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[threadID]
	if !ok {
		return "", ErrUnknownThread
	}
	if !t.hasReply {
		return "", ErrNoReply
	}
	return t.lastReply, nil
}
