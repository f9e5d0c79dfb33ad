// Package anthropic implements assistant.Backend on the Anthropic Messages
// API. The Messages API is stateless, so the prompt transcript lives in the
// adapter; each generation submits the full transcript and records the reply
// when the request returns.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/convoq/convoq/assistant"
	"github.com/convoq/convoq/core"
)

// Options configure the Anthropic backend adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Backend adapts the Messages API to the thread/generation contract.
type Backend struct {
	client  *anthropic.Client
	threads *assistant.LocalThreads
	opts    Options
}

// NewBackend creates a Backend using the official client. Without an APIKey
// option the client reads ANTHROPIC_API_KEY from the environment.
func NewBackend(optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Backend{client: &client, threads: assistant.NewLocalThreads(), opts: opts}
}

// NewBackendFromClient creates a Backend from an existing client.
func NewBackendFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, threads: assistant.NewLocalThreads(), opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
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
		resp, err := b.client.Messages.New(ctx, params)
		if err != nil {
			resolve("", classify(err))
			return
		}
		var reply string
		for _, block := range resp.Content {
			if block.Type == "text" {
				reply += block.AsText().Text
			}
		}
		if reply == "" {
			resolve("", core.NewPermanentBackendError(0, fmt.Errorf("no text content returned")))
			return
		}
		resolve(reply, nil)
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

func (b *Backend) buildParams(transcript []assistant.PromptMessage) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	var system []anthropic.TextBlockParam
	for _, msg := range transcript {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			text := msg.Content
			if msg.SenderID != "" {
				text = fmt.Sprintf("%s: %s", msg.SenderID, msg.Content)
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       b.opts.Model,
		Messages:    messages,
		MaxTokens:   b.opts.MaxTokens,
		Temperature: anthropic.Float(b.opts.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// classify maps SDK errors onto the backend retry taxonomy.
func classify(err error) error {
	var apiErr *anthropic.Error
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
