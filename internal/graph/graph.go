// Package graph runs small state graphs: named nodes that append messages
// to a shared conversation, joined by fixed or conditional edges, from
// Start until End.
package graph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

const (
	Start = "__start__"
	End   = "__end__"

	DefaultRecursionLimit = 25
)

// ErrRecursionLimit is returned when a run executes more node steps than
// its limit allows.
var ErrRecursionLimit = errors.New("recursion limit reached")

var tracer = otel.Tracer("github.com/michaelbrown/toolgraph/internal/graph")

// State is what flows through a graph. Node output is appended to Messages.
type State struct {
	Messages []llm.Message
	// Config carries per-run settings (model, temperature, ...).
	Config map[string]any
}

// Last returns the most recent message.
func (s *State) Last() (llm.Message, bool) {
	if len(s.Messages) == 0 {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// NodeFunc does one step of work and returns the messages to append.
type NodeFunc func(ctx context.Context, st *State) ([]llm.Message, error)

// Router picks the next route after a node. The route is looked up in the
// edge's mapping, or used as the node name when there is no mapping.
type Router func(st *State) string

type conditional struct {
	router  Router
	mapping map[string]string
}

// Builder assembles a graph. The first error is kept and returned by Compile.
type Builder struct {
	name  string
	nodes map[string]NodeFunc
	order []string
	edges map[string]string
	conds map[string]conditional
	err   error
}

// New starts a graph called name.
func New(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]string),
		conds: make(map[string]conditional),
	}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf("graph %s: "+format, append([]any{b.name}, args...)...)
	}
	return b
}

// AddNode registers fn under name.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == Start || name == End:
		return b.fail("node name %q is reserved", name)
	case fn == nil:
		return b.fail("node %q has no function", name)
	}
	if _, dup := b.nodes[name]; dup {
		return b.fail("node %q added twice", name)
	}
	b.nodes[name] = fn
	b.order = append(b.order, name)
	return b
}

// AddEdge always routes from -> to.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.hasOutgoing(from) {
		return b.fail("node %q already has an outgoing edge", from)
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdges routes from `from` to whatever router selects.
func (b *Builder) AddConditionalEdges(from string, router Router, mapping map[string]string) *Builder {
	if router == nil {
		return b.fail("conditional edge from %q has no router", from)
	}
	if b.hasOutgoing(from) {
		return b.fail("node %q already has an outgoing edge", from)
	}
	b.conds[from] = conditional{router: router, mapping: mapping}
	return b
}

func (b *Builder) hasOutgoing(from string) bool {
	_, fixed := b.edges[from]
	_, cond := b.conds[from]
	return fixed || cond
}

func (b *Builder) known(name string) bool {
	_, ok := b.nodes[name]
	return ok
}

// Compile checks the wiring and returns a runnable graph.
func (b *Builder) Compile() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasOutgoing(Start) {
		return nil, fmt.Errorf("graph %s: no edge from %s", b.name, Start)
	}
	if b.hasOutgoing(End) {
		return nil, fmt.Errorf("graph %s: %s cannot have outgoing edges", b.name, End)
	}
	for from, to := range b.edges {
		if from != Start && !b.known(from) {
			return nil, fmt.Errorf("graph %s: edge from unknown node %q", b.name, from)
		}
		if to != End && !b.known(to) {
			return nil, fmt.Errorf("graph %s: edge to unknown node %q", b.name, to)
		}
	}
	for from, c := range b.conds {
		if from != Start && !b.known(from) {
			return nil, fmt.Errorf("graph %s: conditional edge from unknown node %q", b.name, from)
		}
		for route, to := range c.mapping {
			if to != End && !b.known(to) {
				return nil, fmt.Errorf("graph %s: route %q from %q targets unknown node %q", b.name, route, from, to)
			}
		}
	}
	for _, name := range b.order {
		if !b.hasOutgoing(name) {
			return nil, fmt.Errorf("graph %s: node %q has no outgoing edge", b.name, name)
		}
	}

	return &Graph{
		name:  b.name,
		nodes: b.nodes,
		order: b.order,
		edges: b.edges,
		conds: b.conds,
	}, nil
}

// Graph is a compiled, immutable graph. It is safe for concurrent runs as
// long as each run has its own State.
type Graph struct {
	name  string
	nodes map[string]NodeFunc
	order []string
	edges map[string]string
	conds map[string]conditional
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Nodes returns node names in the order they were added.
func (g *Graph) Nodes() []string { return append([]string(nil), g.order...) }

// EventType distinguishes observer events.
type EventType string

const (
	EventNodeStart EventType = "node_start"
	EventNodeEnd   EventType = "node_end"
)

// Event reports node progress to an Observer.
type Event struct {
	Type EventType
	Node string
	Step int
	// Messages holds the node's output on EventNodeEnd.
	Messages []llm.Message
	Err      error
}

// Observer receives events synchronously from the running graph.
type Observer func(Event)

// InvokeOptions tune a single run.
type InvokeOptions struct {
	// RecursionLimit caps node steps; zero means DefaultRecursionLimit.
	RecursionLimit int
	Observer       Observer
}

// Invoke runs the graph from Start until End, appending node output to st.
func (g *Graph) Invoke(ctx context.Context, st *State, opts InvokeOptions) (*State, error) {
	if st == nil {
		st = &State{}
	}
	limit := opts.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	notify := opts.Observer
	if notify == nil {
		notify = func(Event) {}
	}

	current, err := g.next(Start, st)
	if err != nil {
		return st, err
	}
	for step := 0; current != End; step++ {
		if step >= limit {
			return st, fmt.Errorf("graph %s: %w (%d steps)", g.name, ErrRecursionLimit, limit)
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		notify(Event{Type: EventNodeStart, Node: current, Step: step})
		out, err := g.run(ctx, current, step, st)
		notify(Event{Type: EventNodeEnd, Node: current, Step: step, Messages: out, Err: err})
		if err != nil {
			return st, fmt.Errorf("graph %s: node %s: %w", g.name, current, err)
		}
		st.Messages = append(st.Messages, out...)

		if current, err = g.next(current, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (g *Graph) run(ctx context.Context, node string, step int, st *State) ([]llm.Message, error) {
	ctx, span := tracer.Start(ctx, "graph.node", trace.WithAttributes(
		attribute.String("graph", g.name),
		attribute.String("node", node),
		attribute.Int("step", step),
	))
	defer span.End()

	out, err := g.nodes[node](ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (g *Graph) next(from string, st *State) (string, error) {
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	c := g.conds[from]
	route := c.router(st)
	if c.mapping == nil {
		if route != End {
			if _, ok := g.nodes[route]; !ok {
				return "", fmt.Errorf("graph %s: router after %s chose unknown node %q", g.name, from, route)
			}
		}
		return route, nil
	}
	to, ok := c.mapping[route]
	if !ok {
		return "", fmt.Errorf("graph %s: router after %s returned unmapped route %q", g.name, from, route)
	}
	return to, nil
}

// ToolsCondition routes to "tools" when the last message asks for tool
// calls and to End otherwise.
func ToolsCondition(st *State) string {
	if last, ok := st.Last(); ok && last.HasToolCalls() {
		return "tools"
	}
	return End
}
