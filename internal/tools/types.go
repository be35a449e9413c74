package tools

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

// Transport selects how a tool server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ServerConfig describes one MCP tool server. Which connection fields must
// be set depends on Transport; that is checked when connecting, not here.
type ServerConfig struct {
	Name      string            `mapstructure:"name" json:"name"`
	Transport Transport         `mapstructure:"transport" json:"transport"`
	Command   string            `mapstructure:"command" json:"command,omitempty"`
	Args      []string          `mapstructure:"args" json:"args,omitempty"`
	URL       string            `mapstructure:"url" json:"url,omitempty"`
	Env       map[string]string `mapstructure:"env" json:"env,omitempty"`
	Headers   map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Enabled   bool              `mapstructure:"enabled" json:"enabled"`
}

// LoadOptions bound a single server load.
type LoadOptions struct {
	// Timeout applies to each connect+fetch attempt, not to the whole load.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
}

const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 2
)

// DefaultLoadOptions returns a 15s per-attempt timeout and 2 retries.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries}
}

// CallFunc invokes a tool with structured arguments.
type CallFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a capability discovered from a server or provided locally.
// Tools are values; nothing about them changes after discovery.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Server      string         // origin server, empty for local tools
	call        CallFunc
}

// NewTool builds a local tool around fn.
func NewTool(name, description string, parameters map[string]any, fn CallFunc) Tool {
	return Tool{Name: name, Description: description, Parameters: parameters, call: fn}
}

// Call invokes the tool.
func (t Tool) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.call == nil {
		return "", &UnknownToolError{Name: t.Name}
	}
	return t.call(ctx, args)
}

// Def converts the tool to the definition sent to the LLM.
func (t Tool) Def() llm.ToolDef {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolDef{Name: t.Name, Description: t.Description, Parameters: params}
}

// UnknownToolError is returned when a call names a tool nobody provides.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "unknown tool: " + e.Name }

// EnvFlag reports whether the environment variable name holds the literal
// "true" (any case). An unset variable yields def; any other value,
// including the empty string, is false.
func EnvFlag(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return strings.EqualFold(v, "true")
}
