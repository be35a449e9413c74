package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

// mockClient implements llm.Client with scripted responses.
type mockClient struct {
	mu        sync.Mutex
	responses []llm.Response
	callCount int
	requests  [][]llm.Message
	toolDefs  [][]llm.ToolDef
	streamed  int
}

func (m *mockClient) ChatCompletion(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, messages)
	m.toolDefs = append(m.toolDefs, tools)
	if m.callCount >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses")
	}
	resp := m.responses[m.callCount]
	m.callCount++
	return &resp, nil
}

func (m *mockClient) ChatCompletionStream(ctx context.Context, messages []llm.Message, tools []llm.ToolDef, handler llm.StreamHandler) (*llm.Response, error) {
	resp, err := m.ChatCompletion(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.streamed++
	m.mu.Unlock()
	if handler != nil && resp.Message.Content != "" {
		handler(resp.Message.Content)
	}
	return resp, nil
}

// factoryCall records what a node asked the factory for.
type factoryCall struct {
	model       string
	temperature float64
}

// mockFactory hands out the same mock client and records model settings.
type mockFactory struct {
	client *mockClient
	mu     sync.Mutex
	calls  []factoryCall
}

func (f *mockFactory) New(model string, opts ...llm.Option) llm.Client {
	probe := llm.NewClient("http://127.0.0.1:0/", "", model, opts...)
	temp, _ := probe.Temperature()
	f.mu.Lock()
	f.calls = append(f.calls, factoryCall{model: model, temperature: temp})
	f.mu.Unlock()
	return f.client
}

func newMockFactory(responses ...llm.Response) *mockFactory {
	return &mockFactory{client: &mockClient{responses: responses}}
}

func toolCallResponse(id, name string, args map[string]any) llm.Response {
	return llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Args: args}},
	}}
}

func textResponse(text string) llm.Response {
	return llm.Response{Message: llm.AssistantMessage(text)}
}
