package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

// StreamHandler receives text deltas during streaming.
type StreamHandler func(delta string)

type streamHandlerKey struct{}

// WithStreamHandler attaches h to ctx. Graph nodes that generate text use
// it to stream deltas without knowing who is listening.
func WithStreamHandler(ctx context.Context, h StreamHandler) context.Context {
	return context.WithValue(ctx, streamHandlerKey{}, h)
}

// StreamHandlerFrom returns the handler attached to ctx, or nil.
func StreamHandlerFrom(ctx context.Context) StreamHandler {
	h, _ := ctx.Value(streamHandlerKey{}).(StreamHandler)
	return h
}

// ChatCompletionStream sends a streaming chat completion request.
// The handler is called with each text delta as it arrives.
// Returns the full response once streaming is complete.
func (c *OpenAICompatClient) ChatCompletionStream(ctx context.Context, messages []Message, tools []ToolDef, handler StreamHandler) (*Response, error) {
	params := c.params(messages, tools)

	var stream *ssestream.Stream[openai.ChatCompletionChunk]
	err := c.retryRateLimited(ctx, func() error {
		stream = c.client.Chat.Completions.NewStreaming(ctx, params)
		if err := stream.Err(); err != nil {
			stream.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && handler != nil {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				handler(delta)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming: %w", err)
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}
	return toResponse(acc.Choices[0].Message), nil
}
