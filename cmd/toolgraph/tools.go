package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/calc"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

var (
	timeoutFlag time.Duration
	retriesFlag int
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Discover tools from the configured MCP servers",
	Long: `Connect to every enabled MCP server, list its tools and print the merged
pool the MCP agent would be built with. Servers that fail are skipped.

Examples:
  toolgraph tools
  toolgraph tools --timeout 5s --retries 0`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Per-attempt timeout (overrides mcp.timeout)")
	toolsCmd.Flags().IntVar(&retriesFlag, "retries", -1, "Retries per server (overrides mcp.max_retries)")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	opts := cfg.LoadOptions()
	if timeoutFlag > 0 {
		opts.Timeout = timeoutFlag
	}
	if retriesFlag >= 0 {
		opts.MaxRetries = retriesFlag
	}

	servers := cfg.Servers()
	out := cmd.OutOrStdout()
	for _, name := range servers.Names() {
		sc, _ := servers.Get(name)
		state := "disabled"
		if sc.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(out, "server %-16s %-9s %s\n", name, state, describe(sc))
	}
	fmt.Fprintln(out)

	d := newDiscoverer().DiscoverContext(cmd.Context(), opts)
	pool := tools.NewPool(logger, []tools.Tool{calc.NewTool()}, d.Tools)

	for _, t := range pool.Tools() {
		origin := t.Server
		if origin == "" {
			origin = "local"
		}
		fmt.Fprintf(out, "%-28s [%s] %s\n", t.Name, origin, firstLine(t.Description))
	}
	fmt.Fprintf(out, "\n%s\n", d.Summary)
	if len(d.Summary.Failed) > 0 {
		fmt.Fprintf(out, "failed: %s\n", strings.Join(d.Summary.Failed, ", "))
	}
	return nil
}

func describe(sc tools.ServerConfig) string {
	if sc.URL != "" {
		return sc.URL
	}
	return strings.TrimSpace(sc.Command + " " + strings.Join(sc.Args, " "))
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return truncate(s, 80)
}
