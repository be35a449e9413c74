package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/storage"
	"github.com/michaelbrown/toolgraph/internal/storage/sqlite"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

// scriptedClient replays responses in order, shared by every model.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) ChatCompletion(ctx context.Context, messages []llm.Message, defs []llm.ToolDef) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return nil, errors.New("model unavailable")
	}
	resp := c.responses[c.calls]
	c.calls++
	return &resp, nil
}

func (c *scriptedClient) ChatCompletionStream(ctx context.Context, messages []llm.Message, defs []llm.ToolDef, h llm.StreamHandler) (*llm.Response, error) {
	resp, err := c.ChatCompletion(ctx, messages, defs)
	if err == nil && h != nil && resp.Message.Content != "" {
		h(resp.Message.Content)
	}
	return resp, err
}

type testEnv struct {
	srv    *httptest.Server
	store  *sqlite.Store
	client *scriptedClient
}

func newTestEnv(t *testing.T, responses ...llm.Response) *testEnv {
	t.Helper()
	for _, k := range []string{"CHAT_MODEL", "MATH_MODEL", "TEMPERATURE"} {
		t.Setenv(k, "")
	}

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := &scriptedClient{responses: responses}
	rt := &agent.Runtime{
		Factory: func(model string, opts ...llm.Option) llm.Client { return client },
		Discover: func(ctx context.Context) tools.Discovery {
			echo := tools.NewTool("echo", "echoes its input", nil, func(ctx context.Context, args map[string]any) (string, error) {
				return "echo", nil
			})
			echo.Server = "fake"
			return tools.Discovery{
				Tools:   []tools.Tool{echo},
				Summary: tools.Summary{Succeeded: []string{"fake"}, Failed: []string{"broken"}, Tools: 1, Servers: 2},
			}
		},
		MaxIterations: 10,
	}
	s := New(store, rt, nil, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		srv.Close()
	})
	return &testEnv{srv: srv, store: store, client: client}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createThread(t *testing.T, req createThreadRequest) storage.Thread {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/threads", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[storage.Thread](t, resp)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/ok", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	agents := decode[[]agent.Info](t, resp)
	require.Len(t, agents, 3)
	assert.Equal(t, agent.ChatbotID, agents[0].ID)
	assert.Equal(t, "Math Solver", agents[1].Name)
}

func TestListTools(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[toolsResponse](t, resp)
	require.Len(t, out.Tools, 2)
	assert.Equal(t, "calculator_tool", out.Tools[0].Name)
	assert.Equal(t, "echo", out.Tools[1].Name)
	assert.Equal(t, "fake", out.Tools[1].Server)
	assert.Equal(t, []string{"broken"}, out.Summary.Failed)
}

func TestListModelsWithoutLister(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]llm.ModelInfo](t, resp))
}

func TestThreadLifecycle(t *testing.T) {
	e := newTestEnv(t)

	th := e.createThread(t, createThreadRequest{})
	assert.Equal(t, agent.ChatbotID, th.AgentID)
	assert.Equal(t, storage.StatusIdle, th.Status)
	require.NotEmpty(t, th.ID)

	resp := e.do(t, http.MethodGet, "/api/threads/"+th.ID[:8], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, th.ID, decode[storage.Thread](t, resp).ID)

	resp = e.do(t, http.MethodGet, "/api/threads?agent_id=chatbot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]storage.Thread](t, resp), 1)

	resp = e.do(t, http.MethodGet, "/api/threads/"+th.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]llm.Message](t, resp))

	resp = e.do(t, http.MethodDelete, "/api/threads/"+th.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/threads/"+th.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestThreadValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/threads", createThreadRequest{AgentID: "weather_agent"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/threads", createThreadRequest{Profile: "missing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/threads?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	th := e.createThread(t, createThreadRequest{})
	resp = e.do(t, http.MethodPost, "/api/threads/"+th.ID+"/runs", runRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/threads/nope/runs", runRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunMathAgent(t *testing.T) {
	e := newTestEnv(t,
		llm.Response{Message: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "calculator_tool", Args: map[string]any{"expression": "6*7"}}},
		}},
		llm.Response{Message: llm.AssistantMessage("6*7 is 42.")},
	)
	th := e.createThread(t, createThreadRequest{AgentID: agent.MathAgentID})

	resp := e.do(t, http.MethodPost, "/api/threads/"+th.ID+"/runs", runRequest{Content: "what is 6*7?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[runResponse](t, resp)
	assert.Equal(t, "6*7 is 42.", out.Content)
	assert.Equal(t, storage.StatusIdle, out.Status)

	resp = e.do(t, http.MethodGet, "/api/threads/"+th.ID+"/messages", nil)
	msgs := decode[[]llm.Message](t, resp)
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "42", msgs[2].Content)

	stored, err := e.store.GetThread(context.Background(), th.ID)
	require.NoError(t, err)
	assert.Equal(t, "what is 6*7?", stored.Title)
}

func TestRunFailureMarksThread(t *testing.T) {
	e := newTestEnv(t)
	th := e.createThread(t, createThreadRequest{AgentID: agent.MathAgentID})

	resp := e.do(t, http.MethodPost, "/api/threads/"+th.ID+"/runs", runRequest{Content: "1+1"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	stored, err := e.store.GetThread(context.Background(), th.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, stored.Status)

	msgs, err := e.store.LoadMessages(context.Background(), th.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed run leaves history unchanged")
}

func TestWebSocketRun(t *testing.T) {
	e := newTestEnv(t,
		llm.Response{Message: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "calculator_tool", Args: map[string]any{"expression": "2**10"}}},
		}},
		llm.Response{Message: llm.AssistantMessage("1024")},
	)
	th := e.createThread(t, createThreadRequest{AgentID: agent.MathAgentID})

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/threads/" + th.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "message", Content: "2**10?"}))

	var frames []wsOutgoing
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f wsOutgoing
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == "done" || f.Type == "error" {
			break
		}
	}

	var types []string
	for _, f := range frames {
		types = append(types, f.Type)
	}
	assert.Equal(t, "node_start", types[0])
	assert.Contains(t, types, "tool_call")
	assert.Contains(t, types, "tool_result")
	assert.Contains(t, types, "text_delta")

	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.Type)
	assert.Equal(t, "1024", last.Content)

	for _, f := range frames {
		if f.Type == "tool_result" {
			assert.Equal(t, "calculator_tool", f.Name)
			assert.Equal(t, "1024", f.Content)
		}
	}
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	e := newTestEnv(t)
	th := e.createThread(t, createThreadRequest{})

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/threads/" + th.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "ping"}))
	var f wsOutgoing
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "invalid message", f.Content)
}

func TestWebSocketUnknownThread(t *testing.T) {
	e := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/threads/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
