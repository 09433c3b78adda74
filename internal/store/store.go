// SPDX-License-Identifier: MIT

// Package store persists chat sessions and their messages. The orchestrator
// only talks to the SessionStore interface; the backend is picked by
// configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/taskstream/internal/config"
)

// ErrSessionNotFound marks lookups of unknown session IDs.
var ErrSessionNotFound = errors.New("store: session not found")

// Message is one turn of a conversation. ID is the per-session sequence
// number the orchestrator hands out (requestMessageId / responseMessageId).
type Message struct {
	ID              int       `json:"id"`
	Role            string    `json:"role"` // "user" or "assistant"
	Content         string    `json:"content"`
	TaskType        string    `json:"taskType,omitempty"`
	Outputs         []string  `json:"outputs,omitempty"`
	ThinkingEnabled bool      `json:"thinkingEnabled,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is a conversation with its ordered messages.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// LastMessageID returns the highest message ID in the session, 0 when empty.
func (s *Session) LastMessageID() int {
	max := 0
	for _, m := range s.Messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

// SessionStore is the persistence boundary the orchestrator depends on.
type SessionStore interface {
	// CreateSession persists draft, assigning ID and timestamps when unset,
	// and returns the stored session.
	CreateSession(ctx context.Context, draft Session) (*Session, error)
	// AppendMessage adds msg to an existing session.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	// GetSession returns a session with all messages.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	Close() error
}

// Open creates the SessionStore selected by cfg.
func Open(cfg config.StoreConfig) (SessionStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLiteStore(cfg.SQLitePath)
	case "redis":
		return OpenRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
