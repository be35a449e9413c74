package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/michaelbrown/toolgraph/internal/graph"
	"github.com/michaelbrown/toolgraph/internal/llm"
)

// Agent holds one conversation with a compiled agent graph.
type Agent struct {
	id        string
	graph     *graph.Graph
	history   []llm.Message
	config    map[string]any
	maxIter   int
	compactor *compactor

	OnNodeStart  func(node string)
	OnToolCall   func(name string, args map[string]any)
	OnToolResult func(name string, result string)
	OnTextDelta  func(delta string)
}

// New creates an Agent running g. maxIterations caps graph steps per run.
func New(id string, g *graph.Graph, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = graph.DefaultRecursionLimit
	}
	return &Agent{id: id, graph: g, maxIter: maxIterations}
}

// ID returns the catalog id of the agent.
func (a *Agent) ID() string { return a.id }

// SetConfig sets the configurable values passed to every run.
func (a *Agent) SetConfig(cfg map[string]any) {
	a.config = cfg
}

// SetCompaction enables history summarization once the history is
// estimated to exceed maxTokens.
func (a *Agent) SetCompaction(client llm.Client, maxTokens int) {
	if client == nil || maxTokens <= 0 {
		a.compactor = nil
		return
	}
	a.compactor = &compactor{client: client, maxTokens: maxTokens}
}

// Run sends a user message through the graph and returns the final
// assistant text. On error the history is left as it was before the call.
func (a *Agent) Run(ctx context.Context, userMessage string) (string, error) {
	history := a.history
	if a.compactor != nil {
		history = a.compactor.compact(ctx, history)
	}

	st := &graph.State{
		Messages: append(slices.Clone(history), llm.UserMessage(userMessage)),
		Config:   a.config,
	}
	if a.OnTextDelta != nil {
		ctx = llm.WithStreamHandler(ctx, a.OnTextDelta)
	}

	st, err := a.graph.Invoke(ctx, st, graph.InvokeOptions{
		RecursionLimit: a.maxIter,
		Observer:       a.observer(),
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.id, err)
	}

	a.history = st.Messages
	last, _ := st.Last()
	return last.Content, nil
}

// observer turns graph events into the agent callbacks.
func (a *Agent) observer() graph.Observer {
	names := make(map[string]string) // tool call id → tool name
	return func(e graph.Event) {
		switch e.Type {
		case graph.EventNodeStart:
			if a.OnNodeStart != nil {
				a.OnNodeStart(e.Node)
			}
		case graph.EventNodeEnd:
			if e.Err != nil {
				return
			}
			for _, m := range e.Messages {
				for _, tc := range m.ToolCalls {
					names[tc.ID] = tc.Name
					if a.OnToolCall != nil {
						a.OnToolCall(tc.Name, tc.Args)
					}
				}
				if m.Role == llm.RoleTool && a.OnToolResult != nil {
					a.OnToolResult(names[m.ToolCallID], m.Content)
				}
			}
		}
	}
}

// History returns the conversation history.
func (a *Agent) History() []llm.Message {
	return a.history
}

// HistoryJSON returns the conversation as formatted JSON (for debugging).
func (a *Agent) HistoryJSON() string {
	data, _ := json.MarshalIndent(a.history, "", "  ")
	return string(data)
}

// SetHistory replaces the conversation history (used when resuming a thread).
func (a *Agent) SetHistory(messages []llm.Message) {
	a.history = messages
}

// Reset clears the conversation.
func (a *Agent) Reset() {
	a.history = nil
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent(%s, nodes=%d, history=%d messages, maxIter=%d)",
		a.id, len(a.graph.Nodes()), len(a.history), a.maxIter)
}

// FormatToolCall returns a human-readable string for a tool call.
func FormatToolCall(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
