// SPDX-License-Identifier: MIT

package buffer

import (
	"context"
	"time"

	"github.com/ManuGH/taskstream/internal/metrics"
)

// EvictOlderThan removes events whose timestamp predates now-maxAge and
// returns the number removed.
func (b *Buffer) EvictOlderThan(maxAge time.Duration) int {
	cutoff := b.opts.Clock().UTC().Add(-maxAge)

	b.mu.Lock()
	removed := 0
	for len(b.ordered) > 0 && b.ordered[0].Timestamp.Before(cutoff) {
		b.evictOldestLocked("age")
		removed++
	}
	size := len(b.ordered)
	b.mu.Unlock()

	if removed > 0 {
		metrics.BufferSize.Set(float64(size))
		b.logger.Info().
			Str("event", "buffer.events_expired").
			Int("removed", removed).
			Msg("expired old events")
	}
	return removed
}

// EvictIdleClients removes cursors whose last activity predates
// now-maxIdle and returns the number removed.
func (b *Buffer) EvictIdleClients(maxIdle time.Duration) int {
	cutoff := b.opts.Clock().UTC().Add(-maxIdle)

	b.mu.Lock()
	removed := 0
	for id, c := range b.clients {
		if c.LastActivityAt.Before(cutoff) {
			delete(b.clients, id)
			removed++
		}
	}
	count := len(b.clients)
	b.mu.Unlock()

	if removed > 0 {
		metrics.ConnectedClients.Set(float64(count))
		b.logger.Info().
			Str("event", "buffer.clients_expired").
			Int("removed", removed).
			Msg("removed idle clients")
	}
	return removed
}

// Sweep runs one maintenance pass. Overlapping invocations are collapsed:
// if a sweep is already in flight the call returns immediately.
func (b *Buffer) Sweep() {
	if !b.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer b.sweeping.Store(false)

	b.EvictOlderThan(b.opts.EventMaxAge)
	b.EvictIdleClients(b.opts.ClientIdleTimeout)
}

// Run executes the periodic maintenance loop until ctx is cancelled.
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.CleanupInterval)
	defer ticker.Stop()

	b.logger.Info().
		Str("event", "buffer.maintenance_started").
		Dur("interval", b.opts.CleanupInterval).
		Msg("maintenance loop started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().
				Str("event", "buffer.maintenance_stopped").
				Msg("maintenance loop stopped")
			return ctx.Err()
		case <-ticker.C:
			b.Sweep()
		}
	}
}
