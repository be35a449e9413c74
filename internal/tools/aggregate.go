package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Summary records which servers contributed tools. It is diagnostic only.
type Summary struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Tools     int      `json:"tools"`
	Servers   int      `json:"servers"`
}

func (s Summary) String() string {
	return fmt.Sprintf("loaded %d tools from %d/%d servers", s.Tools, len(s.Succeeded), s.Servers)
}

// Aggregator loads every server of a set concurrently and merges the tools
// in set order.
type Aggregator struct {
	logger hclog.Logger
	load   func(ctx context.Context, cfg ServerConfig, opts LoadOptions) LoadResult
}

// NewAggregator creates an aggregator driving loader.
func NewAggregator(loader *Loader, logger hclog.Logger) *Aggregator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Aggregator{logger: logger, load: loader.LoadServer}
}

// LoadAll runs one loader per server and waits for all of them. A server
// that yields no tools, or whose loader panics, is reported as failed;
// the others are unaffected.
func (a *Aggregator) LoadAll(ctx context.Context, servers *ServerSet, opts LoadOptions) ([]Tool, Summary) {
	names := servers.Names()
	if len(names) == 0 {
		a.logger.Info("no MCP servers enabled")
		return []Tool{}, Summary{Succeeded: []string{}, Failed: []string{}}
	}

	ctx, span := tracer.Start(ctx, "tools.load_all")
	defer span.End()

	a.logger.Info("loading tools", "servers", len(names), "names", strings.Join(names, ","))

	results := make([]LoadResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		cfg, _ := servers.Get(name)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("server load panicked", "server", name, "panic", r)
					results[i] = LoadResult{Server: name, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			results[i] = a.load(ctx, cfg, opts)
			results[i].Server = name
			return nil
		})
	}
	_ = g.Wait()

	tools := []Tool{}
	sum := Summary{Succeeded: []string{}, Failed: []string{}, Servers: len(names)}
	for _, r := range results {
		if r.OK() && len(r.Tools) > 0 {
			tools = append(tools, r.Tools...)
			sum.Succeeded = append(sum.Succeeded, r.Server)
			continue
		}
		sum.Failed = append(sum.Failed, r.Server)
	}
	sum.Tools = len(tools)

	span.SetAttributes(
		attribute.Int("servers", sum.Servers),
		attribute.Int("succeeded", len(sum.Succeeded)),
		attribute.Int("tools", sum.Tools),
	)

	a.logger.Info(sum.String(), "working", strings.Join(sum.Succeeded, ","))
	if len(sum.Failed) > 0 {
		a.logger.Warn("servers failed or returned no tools", "failed", strings.Join(sum.Failed, ","))
	}
	return tools, sum
}
