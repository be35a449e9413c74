package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/storage"
)

// ActiveThread is a thread whose agent is loaded in memory.
type ActiveThread struct {
	Agent *agent.Agent

	mu sync.Mutex // one run at a time

	cmu    sync.Mutex
	cancel context.CancelFunc
}

func (at *ActiveThread) setCancel(fn context.CancelFunc) {
	at.cmu.Lock()
	at.cancel = fn
	at.cmu.Unlock()
}

// Cancel interrupts the in-flight run, if any.
func (at *ActiveThread) Cancel() {
	at.cmu.Lock()
	defer at.cmu.Unlock()
	if at.cancel != nil {
		at.cancel()
	}
}

// Hooks receive the progress of a run.
type Hooks struct {
	OnNodeStart  func(node string)
	OnToolCall   func(name string, args map[string]any)
	OnToolResult func(name, result string)
	OnTextDelta  func(delta string)
}

// ThreadManager keeps one agent per active thread and runs turns on it.
type ThreadManager struct {
	store   storage.Store
	runtime *agent.Runtime
	logger  hclog.Logger

	mu      sync.Mutex
	threads map[string]*ActiveThread
}

// NewThreadManager creates a ThreadManager.
func NewThreadManager(store storage.Store, rt *agent.Runtime, logger hclog.Logger) *ThreadManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ThreadManager{
		store:   store,
		runtime: rt,
		logger:  logger,
		threads: make(map[string]*ActiveThread),
	}
}

// Get returns the active thread id, if loaded.
func (tm *ThreadManager) Get(id string) (*ActiveThread, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	at, ok := tm.threads[id]
	return at, ok
}

// GetOrCreate returns the loaded agent of th, building it and restoring
// its stored history on first use.
func (tm *ThreadManager) GetOrCreate(ctx context.Context, th *storage.Thread) (*ActiveThread, error) {
	if at, ok := tm.Get(th.ID); ok {
		return at, nil
	}

	// Built without the lock: MCP discovery can take a while.
	a, err := tm.runtime.NewAgent(ctx, agent.Spec{
		AgentID: th.AgentID,
		Profile: th.Profile,
		Model:   th.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("building agent: %w", err)
	}
	messages, err := tm.store.LoadMessages(ctx, th.ID)
	if err != nil {
		return nil, err
	}
	a.SetHistory(messages)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if at, ok := tm.threads[th.ID]; ok {
		return at, nil
	}
	at := &ActiveThread{Agent: a}
	tm.threads[th.ID] = at
	tm.logger.Debug("thread loaded", "thread", th.ID, "agent", th.AgentID, "messages", len(messages))
	return at, nil
}

// Run sends content to the thread's agent and persists the resulting
// history and status. Runs on the same thread are serialized.
func (tm *ThreadManager) Run(ctx context.Context, th *storage.Thread, content string, hooks Hooks) (string, error) {
	at, err := tm.GetOrCreate(ctx, th)
	if err != nil {
		return "", err
	}

	at.mu.Lock()
	defer at.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	at.setCancel(cancel)
	defer func() {
		cancel()
		at.setCancel(nil)
	}()

	// Persistence outlives the caller's context.
	persistCtx := context.WithoutCancel(ctx)

	if th.Title == "" {
		th.Title = storage.TitleFrom(content)
	}
	th.Status = storage.StatusBusy
	if err := tm.store.UpdateThread(persistCtx, th); err != nil {
		tm.logger.Warn("updating thread", "thread", th.ID, "error", err)
	}

	a := at.Agent
	a.OnNodeStart, a.OnToolCall, a.OnToolResult, a.OnTextDelta =
		hooks.OnNodeStart, hooks.OnToolCall, hooks.OnToolResult, hooks.OnTextDelta
	defer func() {
		a.OnNodeStart, a.OnToolCall, a.OnToolResult, a.OnTextDelta = nil, nil, nil, nil
	}()

	tm.logger.Debug("run started", "thread", th.ID, "agent", a.ID())
	response, runErr := a.Run(ctx, content)

	if err := tm.store.SaveMessages(persistCtx, th.ID, a.History()); err != nil {
		tm.logger.Error("saving messages", "thread", th.ID, "error", err)
	}

	th.Status = storage.StatusIdle
	if runErr != nil {
		th.Status = storage.StatusError
		tm.logger.Warn("run failed", "thread", th.ID, "error", runErr)
	} else {
		tm.logger.Debug("run finished", "thread", th.ID)
	}
	if err := tm.store.UpdateThread(persistCtx, th); err != nil {
		tm.logger.Warn("updating thread", "thread", th.ID, "error", err)
	}
	return response, runErr
}

// Remove cancels any run on id and drops its agent.
func (tm *ThreadManager) Remove(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if at, ok := tm.threads[id]; ok {
		at.Cancel()
		delete(tm.threads, id)
	}
}

// CloseAll cancels every run and drops all agents.
func (tm *ThreadManager) CloseAll() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for id, at := range tm.threads {
		at.Cancel()
		delete(tm.threads, id)
	}
}
