package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/toolgraph/internal/graph"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CHAT_MODEL", "MATH_MODEL", "TEMPERATURE"} {
		t.Setenv(k, "")
	}
}

func TestChatbotGreetsOnEmptyHistory(t *testing.T) {
	f := newMockFactory()
	g, err := NewChatbot(f.New)
	require.NoError(t, err)

	st, err := g.Invoke(context.Background(), &graph.State{}, graph.InvokeOptions{})
	require.NoError(t, err)

	require.Len(t, st.Messages, 1)
	assert.Equal(t, "Hello! How can I help you today?", st.Messages[0].Content)
	assert.Empty(t, f.calls, "no model call for the greeting")
}

func TestChatbotPromptCarriesRecentHistory(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory(textResponse("Sure thing."))
	g, err := NewChatbot(f.New)
	require.NoError(t, err)

	var history []llm.Message
	for i := range 6 {
		history = append(history, llm.UserMessage("question "+string(rune('a'+i))), llm.AssistantMessage("answer "+string(rune('a'+i))))
	}
	a := New(ChatbotID, g, 0)
	a.SetHistory(history)

	out, err := a.Run(context.Background(), "latest question")
	require.NoError(t, err)
	assert.Equal(t, "Sure thing.", out)

	require.Len(t, f.client.requests, 1)
	sent := f.client.requests[0]
	require.Len(t, sent, 1)
	assert.Equal(t, llm.RoleUser, sent[0].Role)
	prompt := sent[0].Content
	assert.Contains(t, prompt, "Human: latest question")
	assert.Contains(t, prompt, "Assistant: answer f")
	assert.Contains(t, prompt, "Human: question c")
	assert.NotContains(t, prompt, "question b", "only the last 10 messages are included")
	assert.Contains(t, prompt, "Current message: latest question")

	assert.Equal(t, []factoryCall{{model: "gemini-2.0-flash", temperature: 0.7}}, f.calls)
	assert.Len(t, a.History(), 14)
}

func TestMathAgentUsesCalculator(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory(
		toolCallResponse("call_1", "calculator_tool", map[string]any{"expression": "sqrt(16) + 2**3"}),
		textResponse("The answer is 12."),
	)
	g, err := Build(MathAgentID, Deps{Factory: f.New}, BuildOptions{})
	require.NoError(t, err)

	a := New(MathAgentID, g, 0)
	var calls, results []string
	var nodes []string
	a.OnNodeStart = func(node string) { nodes = append(nodes, node) }
	a.OnToolCall = func(name string, args map[string]any) { calls = append(calls, FormatToolCall(name, args)) }
	a.OnToolResult = func(name, result string) { results = append(results, name+"="+result) }

	out, err := a.Run(context.Background(), "What is sqrt(16) + 2^3?")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 12.", out)

	assert.Equal(t, []string{"calculator_tool(expression=sqrt(16) + 2**3)"}, calls)
	assert.Equal(t, []string{"calculator_tool=12"}, results)
	assert.Equal(t, []string{"call_model", "tools", "call_model"}, nodes)

	first := f.client.requests[0]
	assert.Equal(t, llm.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Content, "calculator_tool")
	require.Len(t, f.client.toolDefs[0], 1)
	assert.Equal(t, "calculator_tool", f.client.toolDefs[0][0].Name)

	second := f.client.requests[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "12", last.Content)

	assert.Equal(t, factoryCall{model: "gemini-2.0-flash", temperature: 0.1}, f.calls[0])
	assert.Len(t, a.History(), 4)
}

func TestMCPAgentBindsDiscoveredTools(t *testing.T) {
	clearAgentEnv(t)
	listDir := tools.NewTool("list_directory", "List a directory", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "a.txt\nb.txt", nil
	})
	listDir.Server = "filesystem"

	f := newMockFactory(
		toolCallResponse("c1", "list_directory", map[string]any{"path": "/tmp"}),
		textResponse("Two files."),
	)
	g, err := Build(MCPAgentID, Deps{Factory: f.New, MCPTools: []tools.Tool{listDir}, Logger: hclog.NewNullLogger()}, BuildOptions{})
	require.NoError(t, err)

	out, err := New(MCPAgentID, g, 0).Run(context.Background(), "what is in /tmp?")
	require.NoError(t, err)
	assert.Equal(t, "Two files.", out)

	var names []string
	for _, d := range f.client.toolDefs[0] {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"calculator_tool", "list_directory"}, names)
	assert.Contains(t, f.client.requests[0][0].Content, "access to various tools")
	assert.Equal(t, "a.txt\nb.txt", f.client.requests[1][3].Content)
}

func TestToolNodeReportsErrorsAsText(t *testing.T) {
	pool := tools.NewPool(nil, []tools.Tool{
		tools.NewTool("ok", "", nil, func(ctx context.Context, args map[string]any) (string, error) { return "fine", nil }),
		tools.NewTool("boom", "", nil, func(ctx context.Context, args map[string]any) (string, error) { panic("kaboom") }),
	})
	st := &graph.State{Messages: []llm.Message{{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "1", Name: "missing"},
			{ID: "2", Name: "ok"},
			{ID: "3", Name: "boom"},
		},
	}}}

	out, err := ToolNode(pool)(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "1", out[0].ToolCallID)
	assert.True(t, strings.HasPrefix(out[0].Content, "Error: unknown tool: missing"), out[0].Content)
	assert.Equal(t, "fine", out[1].Content)
	assert.Contains(t, out[2].Content, "panicked")
	for _, m := range out {
		assert.Equal(t, llm.RoleTool, m.Role)
	}
}

func TestToolNodeWithoutToolCalls(t *testing.T) {
	_, err := ToolNode(tools.NewPool(nil))(context.Background(), &graph.State{Messages: []llm.Message{llm.AssistantMessage("hi")}})
	assert.Error(t, err)
}

func TestRunErrorKeepsHistory(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory() // every call fails
	g, err := Build(MathAgentID, Deps{Factory: f.New}, BuildOptions{})
	require.NoError(t, err)

	a := New(MathAgentID, g, 0)
	a.SetHistory([]llm.Message{llm.UserMessage("earlier"), llm.AssistantMessage("reply")})

	_, err = a.Run(context.Background(), "now")
	require.Error(t, err)
	assert.Len(t, a.History(), 2)
}

func TestRunStopsAtIterationLimit(t *testing.T) {
	clearAgentEnv(t)
	var responses []llm.Response
	for range 10 {
		responses = append(responses, toolCallResponse("c", "calculator_tool", map[string]any{"expression": "1+1"}))
	}
	f := newMockFactory(responses...)
	g, err := Build(MathAgentID, Deps{Factory: f.New}, BuildOptions{})
	require.NoError(t, err)

	_, err = New(MathAgentID, g, 4).Run(context.Background(), "loop forever")
	assert.ErrorIs(t, err, graph.ErrRecursionLimit)
}

func TestRunStreamsText(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory(textResponse("streamed reply"))
	g, err := NewChatbot(f.New)
	require.NoError(t, err)

	a := New(ChatbotID, g, 0)
	var got strings.Builder
	a.OnTextDelta = func(d string) { got.WriteString(d) }

	_, err = a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "streamed reply", got.String())
	assert.Equal(t, 1, f.client.streamed)
}

func TestRunConfigReachesNodes(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory(textResponse("ok"))
	g, err := NewChatbot(f.New)
	require.NoError(t, err)

	a := New(ChatbotID, g, 0)
	a.SetConfig(map[string]any{"chat_model": "gemini-2.5-flash", "temperature": 0.2})
	_, err = a.Run(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []factoryCall{{model: "gemini-2.5-flash", temperature: 0.2}}, f.calls)
}

func TestBuild(t *testing.T) {
	f := newMockFactory()

	_, err := Build("deep_researcher", Deps{Factory: f.New}, BuildOptions{})
	assert.ErrorContains(t, err, "unknown agent")

	_, err = Build(ChatbotID, Deps{}, BuildOptions{})
	assert.Error(t, err)

	g, err := Build(MathAgentID, Deps{Factory: f.New}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "math-agent", g.Name())
	assert.Equal(t, []string{"call_model", "tools"}, g.Nodes())
}

func TestBuildWithSystemPromptOverride(t *testing.T) {
	clearAgentEnv(t)
	f := newMockFactory(textResponse("arr"))
	g, err := Build(MathAgentID, Deps{Factory: f.New}, BuildOptions{SystemPrompt: "Talk like a pirate."})
	require.NoError(t, err)

	_, err = New(MathAgentID, g, 0).Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Talk like a pirate.", f.client.requests[0][0].Content)
}

func TestCatalog(t *testing.T) {
	var ids []string
	for _, info := range Catalog() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"chatbot", "math_agent", "mcp_agent"}, ids)

	info, ok := Lookup(MathAgentID)
	require.True(t, ok)
	assert.Equal(t, "Math Solver", info.Name)
	assert.True(t, info.ShowActivityTimeline)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestFormatToolCall(t *testing.T) {
	assert.Equal(t, "read_file(mode=r, path=/tmp/x)", FormatToolCall("read_file", map[string]any{"path": "/tmp/x", "mode": "r"}))
	assert.Equal(t, "ping()", FormatToolCall("ping", nil))
}
