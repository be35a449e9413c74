package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/toolgraph/internal/agent"
	"github.com/michaelbrown/toolgraph/internal/calc"
	"github.com/michaelbrown/toolgraph/internal/llm"
	"github.com/michaelbrown/toolgraph/internal/storage"
	"github.com/michaelbrown/toolgraph/internal/tools"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeStoreError maps storage lookup errors onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "thread not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agent.Catalog())
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Server      string         `json:"server,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolsResponse struct {
	Tools   []toolInfo    `json:"tools"`
	Summary tools.Summary `json:"summary"`
}

// handleListTools reports the tools the MCP agent is built with. The first
// request triggers discovery.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	d := s.runtime.Tools(r.Context())
	pool := tools.NewPool(s.logger, []tools.Tool{calc.NewTool()}, d.Tools)

	resp := toolsResponse{Tools: []toolInfo{}, Summary: d.Summary}
	for _, t := range pool.Tools() {
		resp.Tools = append(resp.Tools, toolInfo{
			Name:        t.Name,
			Description: t.Description,
			Server:      t.Server,
			Parameters:  t.Parameters,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeJSON(w, http.StatusOK, []llm.ModelInfo{})
		return
	}
	models, err := s.models(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "listing models: "+err.Error())
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{AgentID: q.Get("agent_id")}

	if status := q.Get("status"); status != "" {
		opts.Status = storage.ThreadStatus(status)
		if !opts.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+status)
			return
		}
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}

	threads, err := s.store.ListThreads(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type createThreadRequest struct {
	AgentID string `json:"agent_id"`
	Title   string `json:"title"`
	Profile string `json:"profile"`
	Model   string `json:"model"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Profile != "" {
		p, err := agent.FindProfile(s.runtime.ProfilesDir, req.Profile)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.AgentID == "" {
			req.AgentID = p.Agent
		}
	}
	if req.AgentID == "" {
		req.AgentID = agent.DefaultAgentID
	}
	if _, ok := agent.Lookup(req.AgentID); !ok {
		writeError(w, http.StatusBadRequest, "unknown agent: "+req.AgentID)
		return
	}

	th := &storage.Thread{
		ID:      uuid.NewString(),
		AgentID: req.AgentID,
		Title:   req.Title,
		Status:  storage.StatusIdle,
		Model:   req.Model,
		Profile: req.Profile,
	}
	if err := s.store.CreateThread(r.Context(), th); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, th)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.threads.Remove(th.ID)
	if err := s.store.DeleteThread(r.Context(), th.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	messages, err := s.store.LoadMessages(r.Context(), th.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []llm.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type runRequest struct {
	Content string `json:"content"`
}

type runResponse struct {
	ThreadID string               `json:"thread_id"`
	Status   storage.ThreadStatus `json:"status"`
	Content  string               `json:"content"`
}

// handleRun runs one turn synchronously and returns the final reply.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	th, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	content, err := s.threads.Run(r.Context(), th, req.Content, Hooks{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{ThreadID: th.ID, Status: th.Status, Content: content})
}
