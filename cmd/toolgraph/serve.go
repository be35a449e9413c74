package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the toolgraph HTTP server with REST and WebSocket endpoints under /api.

Examples:
  toolgraph serve
  toolgraph serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	models := func(ctx context.Context) ([]llm.ModelInfo, error) {
		return llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, "").ListModels(ctx)
	}
	srv := server.New(store, newRuntime(), models, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	return srv.Start(port)
}
