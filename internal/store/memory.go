// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. It is the default backend
// and the reference implementation the durable backends are tested against.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, draft Session) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[draft.ID]; exists {
		return nil, fmt.Errorf("session %s already exists", draft.ID)
	}
	stored := draft
	stored.Messages = append([]Message(nil), draft.Messages...)
	m.sessions[draft.ID] = &stored

	out := copySession(&stored)
	return out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return copySession(s), nil
}

func (m *MemoryStore) Close() error { return nil }

func copySession(s *Session) *Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}
