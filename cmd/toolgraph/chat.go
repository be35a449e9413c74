package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/server"
	"github.com/michaelbrown/toolgraph/internal/storage"
)

var (
	agentFlag   string
	threadFlag  string
	profileFlag string
	modelFlag   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively with an agent",
	Long: `Start an interactive conversation with one of the agents. The conversation
is saved as a thread and can be resumed with --thread.

Examples:
  toolgraph chat
  toolgraph chat --agent math_agent
  toolgraph chat --agent mcp_agent --model gemini-2.5-flash
  toolgraph chat --thread 3f2a9c1e`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&agentFlag, "agent", "", "Agent id (chatbot, math_agent, mcp_agent)")
	chatCmd.Flags().StringVar(&threadFlag, "thread", "", "Resume a saved thread by id or prefix")
	chatCmd.Flags().StringVar(&profileFlag, "profile", "", "Agent profile name or path")
	chatCmd.Flags().StringVar(&modelFlag, "model", "", "Model to use (overrides the agent default)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	th, created, err := chatThread(ctx, store)
	if err != nil {
		return err
	}

	rt := newRuntime()
	tm := server.NewThreadManager(store, rt, logger)
	defer tm.CloseAll()

	at, err := tm.GetOrCreate(ctx, th)
	if err != nil {
		if created {
			store.DeleteThread(context.Background(), th.ID)
		}
		return err
	}

	info, _ := agent.Lookup(th.AgentID)
	fmt.Printf("toolgraph - %s\n", info.Name)
	fmt.Printf("Thread: %s", shortID(th.ID))
	if th.Model != "" {
		fmt.Printf(" | Model: %s", th.Model)
	}
	fmt.Println()
	if info.UsesMCP {
		fmt.Printf("Tools: %s\n", rt.Tools(ctx).Summary)
	}
	if n := len(at.Agent.History()); n > 0 {
		fmt.Printf("Resumed with %d messages\n", n)
	}
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	var streamed bool
	hooks := server.Hooks{
		OnTextDelta: func(delta string) {
			streamed = true
			fmt.Print(delta)
		},
		OnToolCall: func(name string, args map[string]any) {
			fmt.Printf("\n  \033[33m⚡ Tool: %s\033[0m\n", agent.FormatToolCall(name, args))
		},
		OnToolResult: func(name, result string) {
			lines := strings.Split(strings.TrimSpace(result), "\n")
			for i, line := range lines {
				if i == 8 {
					fmt.Printf("  \033[90m│ ... (%d more lines)\033[0m\n", len(lines)-8)
					break
				}
				fmt.Printf("  \033[90m│ %s\033[0m\n", line)
			}
			fmt.Println()
		},
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "toolgraph_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C during a run interrupts the run, not the program.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			at.Cancel()
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(ctx, input, at, store, th); quit {
				return nil
			}
			continue
		}

		fmt.Printf("\n\033[32m%s>\033[0m ", th.AgentID)
		streamed = false
		reply, err := tm.Run(ctx, th, input, hooks)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\n(interrupted)")
				continue
			}
			fmt.Printf("\n\033[31merror: %s\033[0m\n\n", err)
			continue
		}
		if !streamed {
			fmt.Print(reply)
		}
		fmt.Printf("\n\n")
	}
}

// chatThread resumes --thread or creates a new thread from the flags.
func chatThread(ctx context.Context, store storage.Store) (*storage.Thread, bool, error) {
	if threadFlag != "" {
		th, err := store.GetThread(ctx, threadFlag)
		return th, false, err
	}

	id := agentFlag
	if id == "" && profileFlag != "" {
		p, err := agent.FindProfile(cfg.Agent.ProfilesDir, profileFlag)
		if err != nil {
			return nil, false, err
		}
		id = p.Agent
	}
	if id == "" {
		id = agent.DefaultAgentID
	}
	if _, ok := agent.Lookup(id); !ok {
		return nil, false, fmt.Errorf("unknown agent %q (try: toolgraph agents)", id)
	}

	th := &storage.Thread{
		ID:      uuid.NewString(),
		AgentID: id,
		Model:   modelFlag,
		Profile: profileFlag,
	}
	if err := store.CreateThread(ctx, th); err != nil {
		return nil, false, err
	}
	return th, true, nil
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(ctx context.Context, input string, at *server.ActiveThread, store storage.Store, th *storage.Thread) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		at.Agent.Reset()
		if err := store.SaveMessages(ctx, th.ID, nil); err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
		}
		fmt.Println("Conversation reset.")
		fmt.Println()
	case "/history":
		fmt.Println(at.Agent.HistoryJSON())
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /reset    - Clear conversation history")
		fmt.Println("  /history  - Show raw conversation history (JSON)")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
