// Package llm wraps the model provider's chat-completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the provider answers without usable
// text. The caller has already paid for a model round-trip; this is fatal for
// the request and never retried.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Chunk is one increment of a streamed completion. A non-nil Err terminates
// the stream; Text is empty in that case.
type Chunk struct {
	Text string
	Err  error
}

// Client generates responses via an OpenAI-compatible chat-completion
// endpoint.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a Client for the given endpoint and model. baseURL may be
// empty to use the provider default.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *Client) request(userMessage, systemPrompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: 1.0,
		TopP:        1.0,
		Stream:      stream,
	}
}

// Generate returns the complete response for a single-shot request.
func (c *Client) Generate(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(userMessage, systemPrompt, false))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// GenerateStream starts a streamed completion and returns a channel of
// chunks. The channel is closed when the stream ends, fails, or ctx is
// cancelled; the stream cannot be restarted. The caller owns accumulation of
// the full text.
func (c *Client) GenerateStream(ctx context.Context, userMessage, systemPrompt string) (<-chan Chunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(userMessage, systemPrompt, true))
	if err != nil {
		return nil, fmt.Errorf("starting completion stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case out <- Chunk{Err: fmt.Errorf("receiving stream chunk: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- Chunk{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
