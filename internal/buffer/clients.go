// SPDX-License-Identifier: MIT

package buffer

import (
	"time"

	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/metrics"
)

// Client is the high-water mark one logical consumer has observed. Cursors
// are independent of jobs: a client may resume a stream spanning several.
type Client struct {
	ClientID       string    `json:"clientId"`
	LastEventID    string    `json:"lastEventId"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// RegisterClient records a cursor for clientID. Registering an existing id
// logs a warning and leaves the original cursor untouched.
func (b *Buffer) RegisterClient(clientID, lastEventID string) {
	if clientID == "" {
		return
	}
	now := b.opts.Clock().UTC()

	b.mu.Lock()
	if _, exists := b.clients[clientID]; exists {
		b.mu.Unlock()
		b.logger.Warn().
			Str("event", "buffer.client_already_registered").
			Str(log.FieldClientID, clientID).
			Msg("duplicate client registration ignored")
		return
	}
	b.clients[clientID] = &Client{
		ClientID:       clientID,
		LastEventID:    lastEventID,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	count := len(b.clients)
	b.mu.Unlock()

	metrics.ConnectedClients.Set(float64(count))
	b.logger.Info().
		Str("event", "buffer.client_registered").
		Str(log.FieldClientID, clientID).
		Msg("client connected")
}

// TouchClient advances a client's cursor and activity time. It reports
// whether the client was known.
func (b *Buffer) TouchClient(clientID, lastEventID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok {
		return false
	}
	if lastEventID != "" {
		c.LastEventID = lastEventID
	}
	c.LastActivityAt = b.opts.Clock().UTC()
	return true
}

// RemoveClient drops a client's cursor, reporting whether it existed.
func (b *Buffer) RemoveClient(clientID string) bool {
	b.mu.Lock()
	_, ok := b.clients[clientID]
	delete(b.clients, clientID)
	count := len(b.clients)
	b.mu.Unlock()

	if ok {
		metrics.ConnectedClients.Set(float64(count))
		b.logger.Info().
			Str("event", "buffer.client_removed").
			Str(log.FieldClientID, clientID).
			Msg("client disconnected")
	}
	return ok
}

// ListClients returns copies of all registered cursors.
func (b *Buffer) ListClients() []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, *c)
	}
	return out
}
