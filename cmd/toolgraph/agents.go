package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/agent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the available agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, a := range agent.Catalog() {
			fmt.Fprintf(out, "%-12s %s\n", a.ID, a.Name)
			fmt.Fprintf(out, "%-12s %s\n", "", a.Description)
			fmt.Fprintf(out, "%-12s capabilities: %s\n\n", "", strings.Join(a.Capabilities, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}
