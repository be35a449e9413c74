// Package config loads toolgraph configuration with viper.
//
// Sources, highest priority first:
//  1. Environment variables (GEMINI_API_KEY, MCP_*, LOG_LEVEL, TOOLGRAPH_*)
//  2. Config file (toolgraph.yaml in . or ~/.toolgraph)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type FilesystemConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type BraveSearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

type MCPConfig struct {
	Timeout     time.Duration                 `mapstructure:"timeout"`
	MaxRetries  int                           `mapstructure:"max_retries"`
	Filesystem  FilesystemConfig              `mapstructure:"filesystem"`
	BraveSearch BraveSearchConfig             `mapstructure:"brave_search"`
	Servers     map[string]tools.ServerConfig `mapstructure:"servers"`
}

type AgentConfig struct {
	MaxIterations    int    `mapstructure:"max_iterations"`
	ProfilesDir      string `mapstructure:"profiles_dir"`
	ContextMaxTokens int    `mapstructure:"context_max_tokens"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"llm.base_url":             "LLM_BASE_URL",
	"llm.api_key":              "GEMINI_API_KEY",
	"mcp.timeout":              "MCP_TIMEOUT",
	"mcp.max_retries":          "MCP_MAX_RETRIES",
	"mcp.filesystem.path":      "MCP_FILESYSTEM_PATH",
	"mcp.brave_search.api_key": "BRAVE_API_KEY",
	"log.level":                "LOG_LEVEL",
	"telemetry.endpoint":       "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads toolgraph.yaml from the given directories, or from . and
// ~/.toolgraph when none are given. A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("toolgraph")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{".", filepath.Join(homeDir(), ".toolgraph")}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}

	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("mcp.timeout", tools.DefaultTimeout)
	v.SetDefault("mcp.max_retries", tools.DefaultMaxRetries)
	v.SetDefault("mcp.filesystem.enabled", true)
	v.SetDefault("mcp.filesystem.path", "/tmp")
	v.SetDefault("mcp.brave_search.enabled", false)
	v.SetDefault("agent.max_iterations", 25)
	v.SetDefault("agent.profiles_dir", filepath.Join(homeDir(), ".toolgraph", "profiles"))
	v.SetDefault("server.port", 2024)
	v.SetDefault("storage.db_path", filepath.Join(homeDir(), ".toolgraph", "toolgraph.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.enabled", false)

	v.SetEnvPrefix("TOOLGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// These flags are true only for the literal "true", whatever viper
	// would accept.
	cfg.MCP.Filesystem.Enabled = tools.EnvFlag("MCP_FILESYSTEM_ENABLED", cfg.MCP.Filesystem.Enabled)
	cfg.MCP.BraveSearch.Enabled = tools.EnvFlag("MCP_BRAVE_SEARCH_ENABLED", cfg.MCP.BraveSearch.Enabled)
	if s, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		cfg.Telemetry.Enabled = s == "1" || s == "true" || s == "yes"
	}

	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.MCP.BraveSearch.APIKey = expandEnv(cfg.MCP.BraveSearch.APIKey)

	return &cfg, nil
}

// expandEnv resolves values of the form ${VAR}.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}

// Servers returns the built-in servers followed by the configured ones.
func (c *Config) Servers() *tools.ServerSet {
	set := tools.DefaultServers(tools.DefaultsConfig{
		FilesystemEnabled:  c.MCP.Filesystem.Enabled,
		FilesystemPath:     c.MCP.Filesystem.Path,
		BraveSearchEnabled: c.MCP.BraveSearch.Enabled,
		BraveAPIKey:        c.MCP.BraveSearch.APIKey,
	})
	set.Merge(c.MCP.Servers)
	return set
}

// LoadOptions returns the per-server load bounds.
func (c *Config) LoadOptions() tools.LoadOptions {
	return tools.LoadOptions{Timeout: c.MCP.Timeout, MaxRetries: c.MCP.MaxRetries}
}

// RequireAPIKey fails when no LLM key is configured.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return errors.New("GEMINI_API_KEY is not set (or llm.api_key in toolgraph.yaml)")
	}
	return nil
}
