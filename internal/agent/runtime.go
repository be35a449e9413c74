package agent

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

// Spec selects what NewAgent builds. Empty fields take their defaults.
type Spec struct {
	AgentID string
	Profile string
	Model   string
}

// Runtime builds Agents from the catalog. MCP tools are discovered once,
// the first time an agent that uses them is built.
type Runtime struct {
	Factory          llm.Factory
	Discover         func(ctx context.Context) tools.Discovery
	ProfilesDir      string
	MaxIterations    int
	ContextMaxTokens int
	Logger           hclog.Logger

	once      sync.Once
	discovery tools.Discovery
}

// Tools returns the MCP discovery result, running discovery on first call.
func (r *Runtime) Tools(ctx context.Context) tools.Discovery {
	r.once.Do(func() {
		if r.Discover == nil {
			r.discovery = tools.Discovery{
				Tools:   []tools.Tool{},
				Summary: tools.Summary{Succeeded: []string{}, Failed: []string{}},
			}
			return
		}
		// The result is shared; one caller going away must not cut it short.
		r.discovery = r.Discover(context.WithoutCancel(ctx))
	})
	return r.discovery
}

// NewAgent resolves spec against the catalog and profiles and returns a
// ready Agent with an empty history.
func (r *Runtime) NewAgent(ctx context.Context, spec Spec) (*Agent, error) {
	logger := r.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var profile *Profile
	if spec.Profile != "" {
		p, err := FindProfile(r.ProfilesDir, spec.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	id := spec.AgentID
	switch {
	case id == "" && profile != nil:
		id = profile.Agent
	case id == "":
		id = DefaultAgentID
	case profile != nil && profile.Agent != id:
		return nil, fmt.Errorf("profile %s is for agent %s, not %s", spec.Profile, profile.Agent, id)
	}
	info, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", id)
	}

	deps := Deps{Factory: r.Factory, Logger: logger.Named("agent")}
	if info.UsesMCP {
		deps.MCPTools = r.Tools(ctx).Tools
	}

	var opts BuildOptions
	runCfg := map[string]any{}
	maxIter := r.MaxIterations
	model := DefaultModel
	if profile != nil {
		opts = profile.BuildOptions()
		maps.Copy(runCfg, profile.RunConfig())
		if profile.MaxIter > 0 {
			maxIter = profile.MaxIter
		}
		if profile.Model != "" {
			model = profile.Model
		}
	}
	if spec.Model != "" {
		runCfg[ModelKey(id)] = spec.Model
		model = spec.Model
	}

	g, err := Build(id, deps, opts)
	if err != nil {
		return nil, err
	}

	a := New(id, g, maxIter)
	a.SetConfig(runCfg)
	if r.ContextMaxTokens > 0 {
		a.SetCompaction(r.Factory(model), r.ContextMaxTokens)
	}
	return a, nil
}
