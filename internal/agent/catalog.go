package agent

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/michaelbrown/toolgraph/internal/calc"
	"github.com/michaelbrown/toolgraph/internal/graph"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

const (
	ChatbotID   = "chatbot"
	MathAgentID = "math_agent"
	MCPAgentID  = "mcp_agent"

	DefaultAgentID = ChatbotID
)

// Info describes an agent for listings.
type Info struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Icon                 string   `json:"icon"`
	Capabilities         []string `json:"capabilities"`
	ShowActivityTimeline bool     `json:"show_activity_timeline"`
	// UsesMCP is set for agents that need MCP tool discovery at build time.
	UsesMCP bool `json:"uses_mcp"`
}

var catalog = []Info{
	{
		ID:                   ChatbotID,
		Name:                 "Chat Assistant",
		Description:          "Simple conversational assistant",
		Icon:                 "message-circle",
		Capabilities:         []string{"General Chat", "Quick Responses"},
		ShowActivityTimeline: false,
	},
	{
		ID:                   MathAgentID,
		Name:                 "Math Solver",
		Description:          "Advanced mathematical problem solving and calculations",
		Icon:                 "calculator",
		Capabilities:         []string{"Mathematical Calculations", "Problem Solving", "Formula Analysis"},
		ShowActivityTimeline: true,
	},
	{
		ID:                   MCPAgentID,
		Name:                 "MCP Agent",
		Description:          "Assistant with calculator and MCP server tools",
		Icon:                 "plug",
		Capabilities:         []string{"Mathematical Calculations", "File Access", "Web Search"},
		ShowActivityTimeline: true,
		UsesMCP:              true,
	},
}

// Catalog lists the available agents.
func Catalog() []Info {
	return append([]Info(nil), catalog...)
}

// Lookup finds an agent by id.
func Lookup(id string) (Info, bool) {
	for _, info := range catalog {
		if info.ID == id {
			return info, true
		}
	}
	return Info{}, false
}

// Deps are what agent graphs are built from.
type Deps struct {
	Factory llm.Factory
	// MCPTools is the discovered MCP pool, used only by the MCP agent.
	MCPTools []tools.Tool
	Logger   hclog.Logger
}

// BuildOptions customise a graph, typically from a Profile.
type BuildOptions struct {
	SystemPrompt string
	AllowedTools []string
}

// Build compiles the graph of agent id.
func Build(id string, deps Deps, opts BuildOptions) (*graph.Graph, error) {
	if deps.Factory == nil {
		return nil, fmt.Errorf("building %s: no LLM factory", id)
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	switch id {
	case ChatbotID:
		return NewChatbot(deps.Factory)
	case MathAgentID:
		pool := tools.NewPool(deps.Logger, []tools.Tool{calc.NewTool()}).Filter(opts.AllowedTools)
		return NewToolAgent("math-agent", deps.Factory, prompt(opts, mathSystemPrompt), pool)
	case MCPAgentID:
		pool := tools.NewPool(deps.Logger, []tools.Tool{calc.NewTool()}, deps.MCPTools).Filter(opts.AllowedTools)
		deps.Logger.Info("mcp agent tools", "count", pool.Len())
		return NewToolAgent("mcp-agent", deps.Factory, prompt(opts, mcpSystemPrompt), pool)
	default:
		return nil, fmt.Errorf("unknown agent %q", id)
	}
}

func prompt(opts BuildOptions, def string) string {
	if opts.SystemPrompt != "" {
		return opts.SystemPrompt
	}
	return def
}

// NewChatbot builds START -> chat_response -> END.
func NewChatbot(factory llm.Factory) (*graph.Graph, error) {
	return graph.New("basic-chatbot").
		AddNode("chat_response", chatResponse(factory)).
		AddEdge(graph.Start, "chat_response").
		AddEdge("chat_response", graph.End).
		Compile()
}

// NewToolAgent builds the call_model <-> tools loop over pool.
func NewToolAgent(name string, factory llm.Factory, systemPrompt string, pool *tools.Pool) (*graph.Graph, error) {
	return graph.New(name).
		AddNode("call_model", callModel(factory, systemPrompt, pool)).
		AddNode("tools", ToolNode(pool)).
		AddEdge(graph.Start, "call_model").
		AddConditionalEdges("call_model", graph.ToolsCondition, map[string]string{
			"tools":   "tools",
			graph.End: graph.End,
		}).
		AddEdge("tools", "call_model").
		Compile()
}
