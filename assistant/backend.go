package assistant

import (
	"context"
	"errors"
)

// GenerationState is the lifecycle of one submitted generation.
type GenerationState string

const (
	// StateQueued means the generation is accepted but not yet running.
	StateQueued GenerationState = "queued"
	// StateRunning means the provider is producing the reply.
	StateRunning GenerationState = "running"
	// StateCompleted means a reply is ready to fetch.
	StateCompleted GenerationState = "completed"
	// StateFailed means the generation ended without a reply.
	StateFailed GenerationState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s GenerationState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrUnknownThread is returned for a thread id the backend never issued.
	ErrUnknownThread = errors.New("unknown thread")
	// ErrUnknownGeneration is returned for a generation id the backend never issued.
	ErrUnknownGeneration = errors.New("unknown generation")
	// ErrNoReply is returned when a completed thread holds no assistant reply.
	ErrNoReply = errors.New("no assistant reply available")
)

// PromptMessage is one transcript entry handed to the backend.
type PromptMessage struct {
	Role     string // system, user or assistant
	SenderID string
	Content  string
}

// Backend is the provider contract the Supervisor drives. A thread is the
// provider-side (or adapter-held) prompt context for one conversation;
// generations are submitted against it and polled until terminal.
type Backend interface {
	// CreateThread opens a fresh prompt context and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AppendMessage adds a transcript entry to the thread.
	AppendMessage(ctx context.Context, threadID string, msg PromptMessage) error

	// StartGeneration submits a generation against the thread and returns a
	// generation id to poll. It must not block on the provider finishing.
	StartGeneration(ctx context.Context, threadID string) (string, error)

	// PollGeneration reports the generation's state. When the state is
	// StateFailed the returned error carries the failure cause.
	PollGeneration(ctx context.Context, threadID, generationID string) (GenerationState, error)

	// LatestReply fetches the newest assistant reply on the thread.
	LatestReply(ctx context.Context, threadID string) (string, error)
}
