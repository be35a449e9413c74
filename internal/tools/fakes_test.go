package tools_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaelbrown/toolgraph/internal/tools"
)

var errRefused = errors.New("connection refused")

// step scripts one attempt against a fake server.
type step struct {
	tools      []tools.Tool
	connectErr error
	fetchErr   error
	hang       bool          // block in FetchTools until the deadline
	delay      time.Duration // sleep before returning tools
	late       time.Duration // sleep ignoring ctx, then return tools
	panics     bool
}

type fakeConnector struct {
	mu       sync.Mutex
	plans    map[string][]step
	attempts map[string]int
	opened   atomic.Int32
	closed   atomic.Int32
}

func newFakeConnector(plans map[string][]step) *fakeConnector {
	return &fakeConnector{plans: plans, attempts: make(map[string]int)}
}

func (c *fakeConnector) Connect(ctx context.Context, cfg tools.ServerConfig) (tools.Session, error) {
	c.mu.Lock()
	n := c.attempts[cfg.Name]
	c.attempts[cfg.Name]++
	plan := c.plans[cfg.Name]
	c.mu.Unlock()

	if len(plan) == 0 {
		return nil, errRefused
	}
	s := plan[min(n, len(plan)-1)]
	if s.panics {
		panic("connector exploded")
	}
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	c.opened.Add(1)
	return &fakeSession{step: s, conn: c}, nil
}

func (c *fakeConnector) Attempts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[name]
}

func (c *fakeConnector) TotalAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.attempts {
		total += n
	}
	return total
}

type fakeSession struct {
	step step
	conn *fakeConnector
}

func (s *fakeSession) FetchTools(ctx context.Context) ([]tools.Tool, error) {
	if s.step.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.step.late > 0 {
		time.Sleep(s.step.late)
		return s.step.tools, nil
	}
	if s.step.delay > 0 {
		select {
		case <-time.After(s.step.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.step.fetchErr != nil {
		return nil, s.step.fetchErr
	}
	return s.step.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return "called " + name, nil
}

func (s *fakeSession) Close() error {
	s.conn.closed.Add(1)
	return nil
}

// delayRecorder replaces the backoff wait and records requested delays.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *delayRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func fakeTools(server string, names ...string) []tools.Tool {
	out := make([]tools.Tool, 0, len(names))
	for _, n := range names {
		t := tools.NewTool(n, n+" tool", nil, func(ctx context.Context, args map[string]any) (string, error) {
			return n + " ran", nil
		})
		t.Server = server
		out = append(out, t)
	}
	return out
}

func toolNames(ts []tools.Tool) []string {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name)
	}
	return names
}

func stdioServer(name string) tools.ServerConfig {
	return tools.ServerConfig{Name: name, Transport: tools.TransportStdio, Command: "fake", Enabled: true}
}
