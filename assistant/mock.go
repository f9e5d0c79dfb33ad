package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend is an in-memory Backend with scripted outcomes. Queue replies
// and errors in the order generations should consume them; an empty script
// echoes the last user message. Useful for tests and offline examples.
type MockBackend struct {
	threads *LocalThreads

	// Latency delays each generation before it resolves.
	Latency time.Duration

	mu     sync.Mutex
	script []func(transcript []PromptMessage) (string, error)
	starts int
}

// NewMockBackend constructs an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{threads: NewLocalThreads()}
}

// QueueReply scripts the next generation to return content.
func (m *MockBackend) QueueReply(content string) {
	m.mu.Lock()
	m.script = append(m.script, func([]PromptMessage) (string, error) { return content, nil })
	m.mu.Unlock()
}

// QueueError scripts the next generation to fail with err.
func (m *MockBackend) QueueError(err error) {
	m.mu.Lock()
	m.script = append(m.script, func([]PromptMessage) (string, error) { return "", err })
	m.mu.Unlock()
}

// Starts reports how many generations were submitted.
func (m *MockBackend) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// CreateThread implements Backend.
func (m *MockBackend) CreateThread(context.Context) (string, error) {
	return m.threads.Create(), nil
}

// AppendMessage implements Backend.
func (m *MockBackend) AppendMessage(_ context.Context, threadID string, msg PromptMessage) error {
	return m.threads.Append(threadID, msg)
}

// StartGeneration implements Backend.
func (m *MockBackend) StartGeneration(_ context.Context, threadID string) (string, error) {
	transcript, err := m.threads.Snapshot(threadID)
	if err != nil {
		return "", err
	}
	id, resolve, err := m.threads.Begin(threadID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.starts++
	next := m.echo
	if len(m.script) > 0 {
		next = m.script[0]
		m.script = m.script[1:]
	}
	latency := m.Latency
	m.mu.Unlock()

	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		resolve(next(transcript))
	}()
	return id, nil
}

// PollGeneration implements Backend.
func (m *MockBackend) PollGeneration(_ context.Context, threadID, generationID string) (GenerationState, error) {
	return m.threads.Poll(threadID, generationID)
}

// LatestReply implements Backend.
func (m *MockBackend) LatestReply(_ context.Context, threadID string) (string, error) {
	return m.threads.Reply(threadID)
}

func (m *MockBackend) echo(transcript []PromptMessage) (string, error) {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == "user" {
			return fmt.Sprintf("You said: %s", transcript[i].Content), nil
		}
	}
	return "Hello! How can I help?", nil
}

// Interface compliance (compile-time assertion).
var _ Backend = (*MockBackend)(nil)
