package tools

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

// Pool is the flat set of tools handed to an agent. It is built once and
// not modified afterwards.
type Pool struct {
	tools []Tool
	index map[string]int // tool name → position in tools
}

// NewPool concatenates tool sets in order. When two tools share a name the
// first one wins.
func NewPool(logger hclog.Logger, sets ...[]Tool) *Pool {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	p := &Pool{index: make(map[string]int)}
	for _, set := range sets {
		for _, t := range set {
			if prev, ok := p.index[t.Name]; ok {
				logger.Warn("duplicate tool name, keeping first", "tool", t.Name,
					"kept", origin(p.tools[prev]), "dropped", origin(t))
				continue
			}
			p.index[t.Name] = len(p.tools)
			p.tools = append(p.tools, t)
		}
	}
	return p
}

func origin(t Tool) string {
	if t.Server == "" {
		return "local"
	}
	return t.Server
}

// Tools returns the tools in pool order.
func (p *Pool) Tools() []Tool {
	out := make([]Tool, len(p.tools))
	copy(out, p.tools)
	return out
}

// Defs returns the tool definitions sent to the LLM.
func (p *Pool) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(p.tools))
	for _, t := range p.tools {
		defs = append(defs, t.Def())
	}
	return defs
}

// Len returns the number of tools.
func (p *Pool) Len() int { return len(p.tools) }

// Has reports whether a tool named name is in the pool.
func (p *Pool) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Call routes a call to the named tool.
func (p *Pool) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	i, ok := p.index[name]
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	return p.tools[i].Call(ctx, args)
}

// Filter returns a pool restricted to names, in pool order. An empty
// allow-list keeps everything.
func (p *Pool) Filter(names []string) *Pool {
	if len(names) == 0 {
		return p
	}
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	var kept []Tool
	for _, t := range p.tools {
		if allow[t.Name] {
			kept = append(kept, t)
		}
	}
	return NewPool(nil, kept)
}
