// Package server exposes agents and threads over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/storage"
)

// ModelLister lists the models of the configured endpoint.
type ModelLister func(ctx context.Context) ([]llm.ModelInfo, error)

// Server is the HTTP API of toolgraph.
type Server struct {
	store   storage.Store
	runtime *agent.Runtime
	models  ModelLister
	threads *ThreadManager
	logger  hclog.Logger
	router  chi.Router
	http    *http.Server
}

// New creates a Server. models may be nil, in which case /api/models
// returns an empty list.
func New(store storage.Store, rt *agent.Runtime, models ModelLister, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("server")
	s := &Server{
		store:   store,
		runtime: rt,
		models:  models,
		threads: NewThreadManager(store, rt, logger),
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		// Upgraded before the JSON content type is set.
		r.Get("/threads/{id}/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			r.Get("/agents", s.handleListAgents)
			r.Get("/tools", s.handleListTools)
			r.Get("/models", s.handleListModels)

			r.Get("/threads", s.handleListThreads)
			r.Post("/threads", s.handleCreateThread)
			r.Get("/threads/{id}", s.handleGetThread)
			r.Delete("/threads/{id}", s.handleDeleteThread)
			r.Get("/threads/{id}/messages", s.handleGetMessages)
			r.Post("/threads/{id}/runs", s.handleRun)
		})
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the traced root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "toolgraph.http")
}

// Start listens on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("listening", "url", "http://localhost"+addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight runs and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	s.threads.CloseAll()
	if s.http == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
