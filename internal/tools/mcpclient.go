package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ErrInvalidServerConfig is returned by Connect when the transport and the
// connection fields of a ServerConfig do not fit together.
var ErrInvalidServerConfig = errors.New("invalid server config")

// closeGrace bounds how long a closing stdio server may take to exit on
// its own before it is killed.
const closeGrace = time.Second

// Session is one open connection to a tool server.
type Session interface {
	// FetchTools lists the server's tools.
	FetchTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes a tool on this session and returns its text result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	// Close releases the connection and any subprocess behind it.
	Close() error
}

// Connector opens sessions to tool servers.
type Connector interface {
	Connect(ctx context.Context, cfg ServerConfig) (Session, error)
}

// MCPConnector connects to MCP servers with mcp-go, over stdio or
// streamable HTTP.
type MCPConnector struct {
	ClientName    string
	ClientVersion string
}

// NewMCPConnector returns a connector that identifies itself as toolgraph.
func NewMCPConnector() *MCPConnector {
	return &MCPConnector{ClientName: "toolgraph", ClientVersion: "0.1.0"}
}

// Connect starts (stdio) or dials (HTTP) the server and runs the MCP
// initialize handshake. On any error the partially opened client is closed.
func (mc *MCPConnector) Connect(ctx context.Context, cfg ServerConfig) (Session, error) {
	ctx, kill := context.WithCancel(ctx)
	c, err := newClient(ctx, cfg)
	if err != nil {
		kill()
		return nil, err
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    mc.ClientName,
				Version: mc.ClientVersion,
			},
		},
	})
	if err != nil {
		kill()
		c.Close()
		return nil, fmt.Errorf("initializing MCP server %s: %w", cfg.Name, err)
	}

	return &mcpSession{cfg: cfg, client: c, connector: mc, kill: kill}, nil
}

func newClient(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	switch transportOf(cfg) {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("%w: server %s: stdio transport requires a command", ErrInvalidServerConfig, cfg.Name)
		}
		// mcp-go starts the transport on a background context, so the
		// command is bound to ctx here. Its deadline kills the process.
		c, err := client.NewStdioMCPClientWithOptions(cfg.Command, buildEnv(cfg.Env), cfg.Args,
			transport.WithCommandFunc(func(_ context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(ctx, command, args...)
				cmd.Env = append(os.Environ(), env...)
				cmd.WaitDelay = closeGrace
				killGroupOnCancel(cmd)
				return cmd, nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("starting MCP server %s (%s): %w", cfg.Name, cfg.Command, err)
		}
		return c, nil

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: server %s: streamable_http transport requires a url", ErrInvalidServerConfig, cfg.Name)
		}
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandAll(cfg.Headers)))
		}
		c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating MCP client for %s (%s): %w", cfg.Name, cfg.URL, err)
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("connecting to MCP server %s (%s): %w", cfg.Name, cfg.URL, err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: server %s: unknown transport %q", ErrInvalidServerConfig, cfg.Name, cfg.Transport)
	}
}

// transportOf infers the transport from the populated fields when none is set.
func transportOf(cfg ServerConfig) Transport {
	if cfg.Transport != "" {
		return cfg.Transport
	}
	switch {
	case cfg.Command != "":
		return TransportStdio
	case cfg.URL != "":
		return TransportStreamableHTTP
	}
	return ""
}

// buildEnv turns overrides into KEY=value pairs. mcp-go appends them to the
// inherited environment. Empty values are skipped so they do not mask it.
func buildEnv(overrides map[string]string) []string {
	var env []string
	for k, v := range expandAll(overrides) {
		if v == "" {
			continue
		}
		env = append(env, k+"="+v)
	}
	return env
}

// expandAll resolves values of the form ${VAR} from the process environment.
func expandAll(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			v = os.Getenv(v[2 : len(v)-1])
		}
		out[k] = v
	}
	return out
}

type mcpSession struct {
	cfg       ServerConfig
	client    *client.Client
	connector *MCPConnector
	kill      context.CancelFunc
}

// FetchTools lists tools and binds each to a fresh-session invoker, so a
// tool stays callable after this session is closed.
func (s *mcpSession) FetchTools(ctx context.Context) ([]Tool, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools from %s: %w", s.cfg.Name, err)
	}

	out := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaOf(t),
			Server:      s.cfg.Name,
			call:        s.connector.invoker(s.cfg, t.Name),
		})
	}
	return out, nil
}

// CallTool invokes a tool on this session and returns the text result.
func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling tool %s on %s: %w", name, s.cfg.Name, err)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	text := strings.Join(parts, "\n")
	if result.IsError {
		return "Error: " + text, nil
	}
	return text, nil
}

// Close shuts the client down. A stdio server that is still running
// closeGrace after its stdin closed is killed along with its children.
func (s *mcpSession) Close() error {
	t := time.AfterFunc(closeGrace, s.kill)
	defer t.Stop()
	err := s.client.Close()
	s.kill()
	return err
}

// invoker opens a session per call and closes it before returning.
func (mc *MCPConnector) invoker(cfg ServerConfig, tool string) CallFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		sess, err := mc.Connect(ctx, cfg)
		if err != nil {
			return "", err
		}
		defer sess.Close()
		return sess.CallTool(ctx, tool, args)
	}
}

// schemaOf converts an MCP input schema to a JSON Schema map.
func schemaOf(t mcp.Tool) map[string]any {
	if len(t.RawInputSchema) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(t.RawInputSchema, &raw); err == nil {
			return raw
		}
	}
	params := map[string]any{
		"type": t.InputSchema.Type,
	}
	if t.InputSchema.Type == "" {
		params["type"] = "object"
	}
	if t.InputSchema.Properties != nil {
		params["properties"] = t.InputSchema.Properties
	} else {
		params["properties"] = map[string]any{}
	}
	if len(t.InputSchema.Required) > 0 {
		params["required"] = t.InputSchema.Required
	}
	return params
}
