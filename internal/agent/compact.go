package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

const summaryMarker = "[Prior conversation summary]"

// estimateTokens returns an approximate token count for a message.
// Uses chars/4, which is close enough for deciding when to compact.
func estimateTokens(m llm.Message) int {
	tokens := len(m.Content) / 4
	for _, tc := range m.ToolCalls {
		tokens += len(tc.Name) / 4
		if argsJSON, err := json.Marshal(tc.Args); err == nil {
			tokens += len(argsJSON) / 4
		}
	}
	// role overhead
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

func estimateHistoryTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m)
	}
	return total
}

// findSplitPoint returns the index where the recent part of the history
// begins: the newest messages that fit recentBudget, moved back to a user
// message so a tool call is never separated from its result. It returns
// len(messages) when there is nothing worth compacting.
func findSplitPoint(messages []llm.Message, recentBudget int) int {
	if len(messages) < 2 {
		return len(messages)
	}

	tokens := 0
	split := 0
	for i := len(messages) - 1; i >= 0; i-- {
		t := estimateTokens(messages[i])
		if tokens+t > recentBudget {
			split = i + 1
			break
		}
		tokens += t
	}
	if split == 0 {
		return len(messages)
	}
	if split >= len(messages) {
		split = len(messages) - 1
	}
	for split > 0 && messages[split].Role != llm.RoleUser {
		split--
	}
	if split == 0 {
		return len(messages)
	}
	return split
}

// compactor summarizes old history once it outgrows maxTokens.
type compactor struct {
	client    llm.Client
	maxTokens int
}

// compact returns history unchanged when it fits; otherwise the older part
// is replaced by a summary message. If summarizing fails, the history is
// trimmed to the last keepOnError messages from a user boundary.
func (c *compactor) compact(ctx context.Context, history []llm.Message) []llm.Message {
	if estimateHistoryTokens(history) <= c.maxTokens {
		return history
	}

	split := findSplitPoint(history, c.maxTokens*60/100)
	if split >= len(history) {
		return history
	}

	summary, err := summarizeMessages(ctx, c.client, history[:split])
	if err != nil {
		return trimHistory(history, 10)
	}

	out := make([]llm.Message, 0, 1+len(history)-split)
	out = append(out, llm.SystemMessage(summaryMarker+"\n"+summary))
	return append(out, history[split:]...)
}

// trimHistory keeps at most keepLast messages, starting at a user message.
func trimHistory(history []llm.Message, keepLast int) []llm.Message {
	if len(history) <= keepLast {
		return history
	}
	start := len(history) - keepLast
	for start < len(history) && history[start].Role != llm.RoleUser {
		start++
	}
	if start == len(history) {
		start = len(history) - keepLast
	}
	return append([]llm.Message(nil), history[start:]...)
}

// summarizeMessages asks the LLM for a concise summary of messages.
func summarizeMessages(ctx context.Context, client llm.Client, messages []llm.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		prefix := string(m.Role)
		if m.ToolCallID != "" {
			prefix = fmt.Sprintf("tool_result(%s)", m.ToolCallID)
		}
		text := m.Content
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			text += fmt.Sprintf("\n[tool_call: %s(%s)]", tc.Name, string(argsJSON))
		}
		fmt.Fprintf(&b, "[%s]: %s\n", prefix, text)
	}

	prompt := []llm.Message{
		llm.SystemMessage("You are a summarization assistant. Produce a concise summary of the following conversation excerpt. " +
			"Preserve key facts, decisions, tool results, and context the user or assistant may need later. " +
			"Output only the summary, no preamble."),
		llm.UserMessage("Summarize this conversation:\n\n" + b.String()),
	}

	resp, err := client.ChatCompletion(ctx, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("summarization LLM call: %w", err)
	}

	summary := resp.Message.Content
	const maxSummaryChars = 4000
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars] + "\n... (summary truncated)"
	}
	return summary, nil
}
