package tools_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/toolgraph/internal/tools"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(server.NewStreamableHTTPServer(newEchoMCPServer()))
	t.Cleanup(ts.Close)
	return ts
}

func newEchoMCPServer() *server.MCPServer {
	s := server.NewMCPServer("echo", "0.0.1")
	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the input back"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	})
	s.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always fails"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})
	return s
}

func httpServer(name, url string) tools.ServerConfig {
	return tools.ServerConfig{Name: name, Transport: tools.TransportStreamableHTTP, URL: url, Enabled: true}
}

func TestMCPConnectorStreamableHTTP(t *testing.T) {
	ts := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := tools.NewMCPConnector().Connect(ctx, httpServer("echo", ts.URL+"/mcp"))
	require.NoError(t, err)

	got, err := sess.FetchTools(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	require.Len(t, got, 2)
	byName := map[string]tools.Tool{}
	for _, tl := range got {
		byName[tl.Name] = tl
		assert.Equal(t, "echo", tl.Server)
	}
	echo := byName["echo"]
	assert.Equal(t, "Echo the input back", echo.Description)
	assert.Equal(t, "object", echo.Parameters["type"])
	assert.Contains(t, echo.Parameters["properties"], "text")

	// Tools outlive the discovery session.
	out, err := echo.Call(ctx, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = byName["fail"].Call(ctx, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: "), out)
}

func TestLoaderOverStreamableHTTP(t *testing.T) {
	ts := newEchoServer(t)
	loader := tools.NewLoader(tools.NewMCPConnector(), hclog.NewNullLogger())

	got := loader.Load(context.Background(), httpServer("echo", ts.URL+"/mcp"), tools.LoadOptions{Timeout: 10 * time.Second})

	assert.Len(t, got, 2)
}

func TestLoaderUnreachableServer(t *testing.T) {
	ts := newEchoServer(t)
	url := ts.URL + "/mcp"
	ts.Close()
	rec := &delayRecorder{}
	loader := tools.NewLoader(tools.NewMCPConnector(), hclog.NewNullLogger(), tools.WithWait(rec.wait))

	res := loader.LoadServer(context.Background(), httpServer("gone", url), tools.LoadOptions{Timeout: 5 * time.Second, MaxRetries: 1})

	assert.Error(t, res.Err)
	assert.Empty(t, res.Tools)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, rec.Delays())
}

func TestMCPConnectorInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  tools.ServerConfig
	}{
		{"stdio without command", tools.ServerConfig{Name: "a", Transport: tools.TransportStdio}},
		{"http without url", tools.ServerConfig{Name: "b", Transport: tools.TransportStreamableHTTP, Command: "x"}},
		{"unknown transport", tools.ServerConfig{Name: "c", Transport: "carrier_pigeon", Command: "x"}},
		{"nothing set", tools.ServerConfig{Name: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tools.NewMCPConnector().Connect(context.Background(), tt.cfg)
			require.ErrorIs(t, err, tools.ErrInvalidServerConfig)
		})
	}
}

func TestMCPConnectorBadBinary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := tools.NewMCPConnector().Connect(ctx, tools.ServerConfig{
		Name:      "bad",
		Transport: tools.TransportStdio,
		Command:   "/nonexistent/binary",
	})
	assert.Error(t, err)
}
