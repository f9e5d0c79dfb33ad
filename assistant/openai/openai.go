// Package openai implements assistant.Backend on the OpenAI Chat Completions
// API. The Chat Completions API is stateless, so the prompt transcript lives
// in the adapter; each generation submits the full transcript and records the
// reply when the request returns.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/convoq/convoq/assistant"
	"github.com/convoq/convoq/core"
)

// Options configure the OpenAI backend adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend adapts Chat Completions to the thread/generation contract.
type Backend struct {
	client  *openai.Client
	threads *assistant.LocalThreads
	opts    Options
}

// NewBackend creates a Backend using the official client with ambient
// credentials (OPENAI_API_KEY).
func NewBackend(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewBackendFromClient(&client, optFns...)
}

// NewBackendFromClient creates a Backend from an existing client.
func NewBackendFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, threads: assistant.NewLocalThreads(), opts: opts}
}

// CreateThread implements assistant.Backend.
func (b *Backend) CreateThread(context.Context) (string, error) {
	return b.threads.Create(), nil
}

// AppendMessage implements assistant.Backend.
func (b *Backend) AppendMessage(_ context.Context, threadID string, msg assistant.PromptMessage) error {
	return b.threads.Append(threadID, msg)
}

// StartGeneration implements assistant.Backend. The API call runs in the
// background; poll the returned generation id for the outcome.
func (b *Backend) StartGeneration(ctx context.Context, threadID string) (string, error) {
	transcript, err := b.threads.Snapshot(threadID)
	if err != nil {
		return "", err
	}
	id, resolve, err := b.threads.Begin(threadID)
	if err != nil {
		return "", err
	}
	params := b.buildParams(transcript)

	go func() {
		resp, err := b.client.Chat.Completions.New(ctx, params)
		if err != nil {
			resolve("", classify(err))
			return
		}
		if len(resp.Choices) == 0 {
			resolve("", core.NewPermanentBackendError(0, fmt.Errorf("no choices returned")))
			return
		}
		resolve(resp.Choices[0].Message.Content, nil)
	}()
	return id, nil
}

// PollGeneration implements assistant.Backend.
func (b *Backend) PollGeneration(_ context.Context, threadID, generationID string) (assistant.GenerationState, error) {
	return b.threads.Poll(threadID, generationID)
}

// LatestReply implements assistant.Backend.
func (b *Backend) LatestReply(_ context.Context, threadID string) (string, error) {
	return b.threads.Reply(threadID)
}

// buildParams converts the transcript into chat messages. Human senders keep
// their identity via a name prefix so the model can address them apart.
func (b *Backend) buildParams(transcript []assistant.PromptMessage) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range transcript {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			text := msg.Content
			if msg.SenderID != "" {
				text = fmt.Sprintf("%s: %s", msg.SenderID, msg.Content)
			}
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:               b.opts.Model,
		Messages:            messages,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	}
}

// classify maps SDK errors onto the backend retry taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return core.ClassifyStatus(apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewTransientBackendError(0, err)
}

// Interface compliance (compile-time assertion).
var _ assistant.Backend = (*Backend)(nil)
