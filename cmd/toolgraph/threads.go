package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/storage"
	"github.com/michaelbrown/toolgraph/internal/storage/sqlite"
)

var (
	statusFilter string
	agentFilter  string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var threadsCmd = &cobra.Command{
	Use:     "threads",
	Aliases: []string{"thread", "t"},
	Short:   "Manage saved conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved threads",
	RunE:  runThreadsList,
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show a thread and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsShow,
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsDelete,
}

var threadsExportCmd = &cobra.Command{
	Use:   "export <thread-id>",
	Short: "Export a thread as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsExport,
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd, threadsDeleteCmd, threadsExportCmd)

	threadsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (idle, busy, error)")
	threadsListCmd.Flags().StringVar(&agentFilter, "agent", "", "Filter by agent id")
	threadsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max threads to show")

	threadsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	threadsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	threadsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func runThreadsList(cmd *cobra.Command, args []string) error {
	status := storage.ThreadStatus(statusFilter)
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", statusFilter)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	threads, err := store.ListThreads(cmd.Context(), storage.ListOptions{
		AgentID: agentFilter,
		Status:  status,
		Limit:   limitFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads found.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-11s %-7s %-40s %s\n", "ID", "AGENT", "STATUS", "TITLE", "UPDATED")
	fmt.Fprintln(out, strings.Repeat("─", 90))
	for _, t := range threads {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "%-10s %-11s %-7s %-40s %s\n",
			shortID(t.ID), t.AgentID, t.Status, truncate(title, 38), timeAgo(t.UpdatedAt))
	}
	return nil
}

func runThreadsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	t, err := store.GetThread(ctx, args[0])
	if err != nil {
		return err
	}
	messages, err := store.LoadMessages(ctx, t.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := t.AgentID
	if info, ok := agent.Lookup(t.AgentID); ok {
		name = info.Name
	}
	fmt.Fprintf(out, "Thread:   %s\n", t.ID)
	fmt.Fprintf(out, "Title:    %s\n", t.Title)
	fmt.Fprintf(out, "Agent:    %s\n", name)
	fmt.Fprintf(out, "Status:   %s\n", t.Status)
	if t.Model != "" {
		fmt.Fprintf(out, "Model:    %s\n", t.Model)
	}
	if t.Profile != "" {
		fmt.Fprintf(out, "Profile:  %s\n", t.Profile)
	}
	fmt.Fprintf(out, "Created:  %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", t.UpdatedAt.Format(time.RFC3339))

	fmt.Fprintf(out, "\nMessages: %d\n", len(messages))
	fmt.Fprintln(out, strings.Repeat("─", 60))
	printMessages(out, messages)
	return nil
}

func printMessages(out io.Writer, messages []llm.Message) {
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			fmt.Fprintf(out, "\n\033[90m%s\033[0m\n", truncate(m.Content, 200))
		case llm.RoleUser:
			fmt.Fprintf(out, "\n\033[36myou>\033[0m %s\n", truncate(m.Content, 200))
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(out, "\n\033[32magent>\033[0m %s\n", truncate(m.Content, 200))
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "  \033[33m⚡ %s\033[0m\n", agent.FormatToolCall(tc.Name, tc.Args))
			}
		case llm.RoleTool:
			fmt.Fprintf(out, "  \033[90m│ %s\033[0m\n", truncate(m.Content, 100))
		}
	}
}

func runThreadsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	t, err := store.GetThread(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("Delete thread %s - %q? [y/N] ", shortID(t.ID), title)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteThread(ctx, t.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted thread %s\n", shortID(t.ID))
	return nil
}

func runThreadsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	t, err := store.GetThread(ctx, args[0])
	if err != nil {
		return err
	}
	messages, err := store.LoadMessages(ctx, t.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(t, messages)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	case "md", "markdown":
		output = storage.ExportMarkdown(t, messages)
	default:
		return fmt.Errorf("unknown export format %q (md or json)", exportFormat)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
