// Package storage persists conversation threads and their message history.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

var (
	// ErrNotFound is returned when no thread matches an ID or prefix.
	ErrNotFound = errors.New("thread not found")
	// ErrAmbiguous is returned when an ID prefix matches several threads.
	ErrAmbiguous = errors.New("ambiguous thread id")
)

// ThreadStatus is the run state of a thread.
type ThreadStatus string

const (
	StatusIdle  ThreadStatus = "idle"
	StatusBusy  ThreadStatus = "busy"
	StatusError ThreadStatus = "error"
)

// Valid reports whether s is a known status.
func (s ThreadStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusError:
		return true
	}
	return false
}

// Thread is the metadata of one conversation with an agent.
type Thread struct {
	ID        string       `json:"thread_id"`
	AgentID   string       `json:"agent_id"`
	Title     string       `json:"title"`
	Status    ThreadStatus `json:"status"`
	Model     string       `json:"model,omitempty"`
	Profile   string       `json:"profile,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ListOptions filters and pages ListThreads.
type ListOptions struct {
	AgentID string
	Status  ThreadStatus
	Limit   int
	Offset  int
}

// Store is the persistence interface for threads and messages.
type Store interface {
	// CreateThread inserts t. The caller sets ID; timestamps are filled in.
	CreateThread(ctx context.Context, t *Thread) error

	// GetThread returns a thread by ID or unique ID prefix.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// ListThreads returns threads, most recently updated first.
	ListThreads(ctx context.Context, opts ListOptions) ([]Thread, error)

	// UpdateThread stores title, status and model and bumps updated_at.
	UpdateThread(ctx context.Context, t *Thread) error

	// DeleteThread removes a thread and its messages.
	DeleteThread(ctx context.Context, id string) error

	// SaveMessages replaces the message history of a thread.
	SaveMessages(ctx context.Context, threadID string, messages []llm.Message) error

	// LoadMessages returns the message history of a thread, nil if none.
	LoadMessages(ctx context.Context, threadID string) ([]llm.Message, error)

	Close() error
}

// TitleFrom derives a thread title from the first user message.
func TitleFrom(content string) string {
	const max = 60
	runes := []rune(content)
	for i, r := range runes {
		if r == '\n' {
			runes = runes[:i]
			break
		}
	}
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return string(runes)
}
