package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/michaelbrown/toolgraph/internal/graph"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

// historyWindow is how many recent messages the chatbot prompt carries.
const historyWindow = 10

// generate calls the model, streaming when the run context carries a handler.
func generate(ctx context.Context, client llm.Client, messages []llm.Message, defs []llm.ToolDef) (llm.Message, error) {
	var (
		resp *llm.Response
		err  error
	)
	if h := llm.StreamHandlerFrom(ctx); h != nil {
		resp, err = client.ChatCompletionStream(ctx, messages, defs, h)
	} else {
		resp, err = client.ChatCompletion(ctx, messages, defs)
	}
	if err != nil {
		return llm.Message{}, err
	}
	return resp.Message, nil
}

// chatResponse answers the latest message with the recent conversation
// rendered into a single prompt.
func chatResponse(factory llm.Factory) graph.NodeFunc {
	return func(ctx context.Context, st *graph.State) ([]llm.Message, error) {
		if len(st.Messages) == 0 {
			return []llm.Message{llm.AssistantMessage(greeting)}, nil
		}
		cfg := ResolveChatbotConfig(st.Config)

		recent := st.Messages[max(0, len(st.Messages)-historyWindow):]
		lines := make([]string, 0, len(recent))
		for _, m := range recent {
			speaker := "Assistant"
			if m.Role == llm.RoleUser {
				speaker = "Human"
			}
			lines = append(lines, speaker+": "+m.Content)
		}
		last := st.Messages[len(st.Messages)-1]
		prompt := formatChatbotPrompt(strings.Join(lines, "\n"), last.Content)

		client := factory(cfg.ChatModel, llm.WithTemperature(cfg.Temperature))
		msg, err := generate(ctx, client, []llm.Message{llm.UserMessage(prompt)}, nil)
		if err != nil {
			return nil, fmt.Errorf("chat response: %w", err)
		}
		return []llm.Message{llm.AssistantMessage(msg.Content)}, nil
	}
}

// callModel sends the system prompt and the conversation with the pool's
// tools bound, and returns the model's reply (text or tool calls).
func callModel(factory llm.Factory, systemPrompt string, pool *tools.Pool) graph.NodeFunc {
	defs := pool.Defs()
	return func(ctx context.Context, st *graph.State) ([]llm.Message, error) {
		cfg := ResolveMathAgentConfig(st.Config)
		client := factory(cfg.MathModel, llm.WithTemperature(cfg.Temperature))

		messages := make([]llm.Message, 0, len(st.Messages)+1)
		messages = append(messages, llm.SystemMessage(systemPrompt))
		messages = append(messages, st.Messages...)

		msg, err := generate(ctx, client, messages, defs)
		if err != nil {
			return nil, fmt.Errorf("call model: %w", err)
		}
		return []llm.Message{msg}, nil
	}
}

// ToolNode executes every tool call of the last assistant message
// concurrently and returns one result message per call, in call order.
// Failures become error text for the model to read.
func ToolNode(pool *tools.Pool) graph.NodeFunc {
	return func(ctx context.Context, st *graph.State) ([]llm.Message, error) {
		last, ok := st.Last()
		if !ok || !last.HasToolCalls() {
			return nil, fmt.Errorf("tool node: last message has no tool calls")
		}

		results := make([]llm.Message, len(last.ToolCalls))
		var g errgroup.Group
		for i, tc := range last.ToolCalls {
			g.Go(func() error {
				results[i] = llm.ToolResultMessage(tc.ID, execute(ctx, pool, tc))
				return nil
			})
		}
		_ = g.Wait()
		return results, nil
	}
}

func execute(ctx context.Context, pool *tools.Pool, tc llm.ToolCall) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error: tool %s panicked: %v\n Please fix your mistakes.", tc.Name, r)
		}
	}()
	out, err := pool.Call(ctx, tc.Name, tc.Args)
	if err != nil {
		return fmt.Sprintf("Error: %v\n Please fix your mistakes.", err)
	}
	return out
}
