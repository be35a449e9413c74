package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/michaelbrown/toolgraph/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsIncoming is a client frame.
type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutgoing is a server frame.
type wsOutgoing struct {
	Type    string         `json:"type"`
	Node    string         `json:"node,omitempty"`
	Name    string         `json:"name,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Content string         `json:"content,omitempty"`
}

// wsConn serializes writes from the agent hooks and the read loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v wsOutgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		writeStoreError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	if _, err := s.threads.GetOrCreate(r.Context(), th); err != nil {
		ws.send(wsOutgoing{Type: "error", Content: err.Error()})
		return
	}

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "thread", th.ID, "error", err)
			}
			return
		}
		if msg.Type != "message" || msg.Content == "" {
			if err := ws.send(wsOutgoing{Type: "error", Content: "invalid message"}); err != nil {
				return
			}
			continue
		}
		if err := s.runOverWebSocket(r.Context(), ws, th, msg.Content); err != nil {
			s.logger.Debug("websocket write failed", "thread", th.ID, "error", err)
			return
		}
	}
}

// runOverWebSocket streams one run as frames and ends with done or error.
// It returns an error only when the connection is no longer writable.
func (s *Server) runOverWebSocket(ctx context.Context, ws *wsConn, th *storage.Thread, content string) error {
	hooks := Hooks{
		OnNodeStart: func(node string) {
			ws.send(wsOutgoing{Type: "node_start", Node: node})
		},
		OnToolCall: func(name string, args map[string]any) {
			ws.send(wsOutgoing{Type: "tool_call", Name: name, Args: args})
		},
		OnToolResult: func(name, result string) {
			ws.send(wsOutgoing{Type: "tool_result", Name: name, Content: result})
		},
		OnTextDelta: func(delta string) {
			ws.send(wsOutgoing{Type: "text_delta", Content: delta})
		},
	}

	response, err := s.threads.Run(ctx, th, content, hooks)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "interrupted"
		}
		return ws.send(wsOutgoing{Type: "error", Content: msg})
	}
	return ws.send(wsOutgoing{Type: "done", Content: response})
}
