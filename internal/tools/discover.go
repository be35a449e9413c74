package tools

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Discovery is the outcome of one discovery run.
type Discovery struct {
	Tools   []Tool
	Summary Summary
}

// Discoverer is the blocking entry point used when an agent is built. It
// loads the enabled servers of its set and never fails: the worst outcome
// is an empty tool list.
type Discoverer struct {
	servers    *ServerSet
	aggregator *Aggregator
	logger     hclog.Logger
}

// NewDiscoverer wires a loader and aggregator over connector.
func NewDiscoverer(servers *ServerSet, connector Connector, logger hclog.Logger, opts ...LoaderOption) *Discoverer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("tools")
	return &Discoverer{
		servers:    servers,
		aggregator: NewAggregator(NewLoader(connector, logger, opts...), logger),
		logger:     logger,
	}
}

// Discover blocks until every enabled server has been loaded or given up on.
func (d *Discoverer) Discover(opts LoadOptions) Discovery {
	return d.DiscoverContext(context.Background(), opts)
}

// DiscoverContext is Discover bounded by ctx. Cancelling ctx stops pending
// attempts and backoff waits; servers not loaded by then count as failed.
func (d *Discoverer) DiscoverContext(ctx context.Context, opts LoadOptions) (out Discovery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool discovery failed", "panic", r)
			out = Discovery{Tools: []Tool{}, Summary: Summary{Succeeded: []string{}, Failed: d.servers.Enabled().Names()}}
		}
	}()

	tools, sum := d.aggregator.LoadAll(ctx, d.servers.Enabled(), opts)
	return Discovery{Tools: tools, Summary: sum}
}

// ToolsSync returns the merged tools of every enabled server.
func (d *Discoverer) ToolsSync(opts LoadOptions) []Tool {
	return d.Discover(opts).Tools
}
