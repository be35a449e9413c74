package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/config"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/observability"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

var version = "dev"

var (
	logLevelFlag string
	configDir    string
)

// Set up by the root command before any subcommand runs.
var (
	cfg      *config.Config
	logger   hclog.Logger
	teardown []func() error
)

var rootCmd = &cobra.Command{
	Use:   "toolgraph",
	Short: "Graph-routed LLM agents with MCP tools",
	Long: `toolgraph runs small agent graphs over an OpenAI-compatible LLM endpoint
(Gemini by default): a chatbot, a math solver with a calculator tool, and an
agent whose tools are discovered from MCP servers.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		runTeardown()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error, off")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding toolgraph.yaml")
}

func setup(cmd *cobra.Command, args []string) error {
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	c, err := config.Load(dirs...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = c
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}

	l, closer, err := observability.NewLogger(observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	logger = l
	teardown = append(teardown, closer.Close)

	shutdown, err := observability.SetupTelemetry(cmd.Context(), observability.TelemetryConfig{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	teardown = append(teardown, func() error { return shutdown(context.Background()) })
	return nil
}

func runTeardown() {
	for i := len(teardown) - 1; i >= 0; i-- {
		if err := teardown[i](); err != nil && logger != nil {
			logger.Warn("teardown", "error", err)
		}
	}
	teardown = nil
}

// newDiscoverer builds the MCP facade over the configured servers.
func newDiscoverer() *tools.Discoverer {
	return tools.NewDiscoverer(cfg.Servers(), tools.NewMCPConnector(), logger)
}

// newRuntime wires the LLM endpoint and MCP discovery into agent building.
func newRuntime() *agent.Runtime {
	d := newDiscoverer()
	return &agent.Runtime{
		Factory: llm.NewFactory(cfg.LLM.BaseURL, cfg.LLM.APIKey, llm.WithLogger(logger.Named("llm"))),
		Discover: func(ctx context.Context) tools.Discovery {
			return d.DiscoverContext(ctx, cfg.LoadOptions())
		},
		ProfilesDir:      cfg.Agent.ProfilesDir,
		MaxIterations:    cfg.Agent.MaxIterations,
		ContextMaxTokens: cfg.Agent.ContextMaxTokens,
		Logger:           logger,
	}
}

func main() {
	err := rootCmd.Execute()
	// PersistentPostRunE is skipped when a command fails.
	runTeardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
