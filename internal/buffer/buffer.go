// SPDX-License-Identifier: MIT

// Package buffer implements the bounded in-memory event store that backs
// stream resumption. Events are totally ordered by (timestamp, id); once the
// buffer is full the oldest entry is dropped to make room for the newest.
package buffer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/log"
	"github.com/ManuGH/taskstream/internal/metrics"
	"github.com/ManuGH/taskstream/internal/sse"
)

// Options bounds the buffer. Zero values fall back to the historical
// defaults so tests can construct a buffer with a partial struct.
type Options struct {
	MaxSize             int
	DefaultEventCount   int
	MaxEventsPerRequest int
	EventMaxAge         time.Duration
	ClientIdleTimeout   time.Duration
	CleanupInterval     time.Duration
	Clock               func() time.Time // test hook; defaults to time.Now
}

func (o *Options) applyDefaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 1000
	}
	if o.DefaultEventCount <= 0 {
		o.DefaultEventCount = 10
	}
	if o.MaxEventsPerRequest <= 0 {
		o.MaxEventsPerRequest = 100
	}
	if o.EventMaxAge <= 0 {
		o.EventMaxAge = 60 * time.Minute
	}
	if o.ClientIdleTimeout <= 0 {
		o.ClientIdleTimeout = 30 * time.Minute
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Statistics is a point-in-time snapshot of the buffer, served on the
// operations surface.
type Statistics struct {
	TotalEvents     int       `json:"totalEvents"`
	TotalClients    int       `json:"totalClients"`
	OldestEventTime time.Time `json:"oldestEventTime"`
	NewestEventTime time.Time `json:"newestEventTime"`
}

// Buffer is safe for concurrent multi-reader/multi-writer use. Queries never
// fail: an unknown cursor degrades to "most recent" because a reconnect must
// never hard-fail on a stale Last-Event-ID.
type Buffer struct {
	mu      sync.RWMutex
	ordered []sse.Event          // ascending by (timestamp, id)
	byID    map[string]sse.Event // cursor lookup
	clients map[string]*Client

	// sweeping collapses overlapping maintenance runs without holding mu.
	sweeping atomic.Bool

	opts   Options
	logger zerolog.Logger
}

// New creates an empty buffer.
func New(opts Options) *Buffer {
	opts.applyDefaults()
	return &Buffer{
		byID:    make(map[string]sse.Event),
		clients: make(map[string]*Client),
		opts:    opts,
		logger:  log.WithComponent("buffer"),
	}
}

func newEventID() string {
	return uuid.NewString()
}

// Append stores an event, assigning an ID and UTC timestamp if absent.
// When the buffer is at capacity the oldest event is evicted first; Append
// itself never rejects an event.
func (b *Buffer) Append(e sse.Event) sse.Event {
	if e.ID == "" {
		e.ID = newEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.opts.Clock().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}

	b.mu.Lock()
	if _, dup := b.byID[e.ID]; dup {
		b.mu.Unlock()
		b.logger.Warn().
			Str("event", "buffer.duplicate_event").
			Str(log.FieldEventID, e.ID).
			Msg("ignoring event with duplicate id")
		return e
	}
	for len(b.ordered) >= b.opts.MaxSize {
		b.evictOldestLocked("capacity")
	}
	b.insertLocked(e)
	size := len(b.ordered)
	b.mu.Unlock()

	metrics.EventsAppendedTotal.Inc()
	metrics.BufferSize.Set(float64(size))
	return e
}

// insertLocked places e at its (timestamp, id) position. Appends arrive in
// near-chronological order, so the scan from the tail is O(1) amortized.
func (b *Buffer) insertLocked(e sse.Event) {
	i := len(b.ordered)
	for i > 0 && e.Before(b.ordered[i-1]) {
		i--
	}
	b.ordered = append(b.ordered, sse.Event{})
	copy(b.ordered[i+1:], b.ordered[i:])
	b.ordered[i] = e
	b.byID[e.ID] = e
}

func (b *Buffer) evictOldestLocked(reason string) {
	if len(b.ordered) == 0 {
		return
	}
	oldest := b.ordered[0]
	b.ordered = b.ordered[1:]
	delete(b.byID, oldest.ID)
	metrics.IncEvicted(reason)
}

// EventsSince returns events strictly after the cursor in (timestamp, id)
// order, capped at maxCount. An empty or unknown cursor returns the most
// recent events instead, capped at min(maxCount, defaultEventCount).
// With no intervening append, two calls return identical results.
func (b *Buffer) EventsSince(cursorID string, maxCount int) []sse.Event {
	limit := maxCount
	if limit <= 0 || limit > b.opts.MaxEventsPerRequest {
		limit = b.opts.MaxEventsPerRequest
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	cursor, known := b.byID[cursorID]
	if cursorID == "" || !known {
		if cursorID != "" {
			b.logger.Warn().
				Str("event", "buffer.unknown_cursor").
				Str(log.FieldEventID, cursorID).
				Msg("unknown cursor, falling back to most recent events")
		}
		if limit > b.opts.DefaultEventCount {
			limit = b.opts.DefaultEventCount
		}
		start := len(b.ordered) - limit
		if start < 0 {
			start = 0
		}
		return append([]sse.Event(nil), b.ordered[start:]...)
	}

	// First index strictly after the cursor.
	idx := sort.Search(len(b.ordered), func(i int) bool {
		return cursor.Before(b.ordered[i])
	})
	end := idx + limit
	if end > len(b.ordered) {
		end = len(b.ordered)
	}
	return append([]sse.Event(nil), b.ordered[idx:end]...)
}

// Stats returns a snapshot of the buffer contents.
func (b *Buffer) Stats() Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Statistics{
		TotalEvents:  len(b.ordered),
		TotalClients: len(b.clients),
	}
	if len(b.ordered) > 0 {
		stats.OldestEventTime = b.ordered[0].Timestamp
		stats.NewestEventTime = b.ordered[len(b.ordered)-1].Timestamp
	}
	return stats
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ordered)
}
