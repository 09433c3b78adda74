// SPDX-License-Identifier: MIT

package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictOlderThan(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	b.Append(progressEvent(1))
	b.Append(progressEvent(2))
	clock.Advance(2 * time.Hour)
	kept := b.Append(progressEvent(3))

	removed := b.EvictOlderThan(time.Hour)
	assert.Equal(t, 2, removed)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, []string{kept.ID}, eventIDs(b.EventsSince("", 10)))

	// nothing left to expire
	assert.Equal(t, 0, b.EvictOlderThan(time.Hour))
}

func TestEvictIdleClients(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	b.RegisterClient("stale", "")
	clock.Advance(time.Hour)
	b.RegisterClient("fresh", "")

	removed := b.EvictIdleClients(30 * time.Minute)
	assert.Equal(t, 1, removed)

	clients := b.ListClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "fresh", clients[0].ClientID)
}

func TestTouchClientKeepsClientAlive(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	b.RegisterClient("c1", "e0")
	clock.Advance(time.Hour)
	require.True(t, b.TouchClient("c1", "e5"))

	assert.Equal(t, 0, b.EvictIdleClients(30*time.Minute))

	clients := b.ListClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "e5", clients[0].LastEventID)
}

func TestTouchUnknownClient(t *testing.T) {
	b := New(Options{})
	assert.False(t, b.TouchClient("ghost", "e1"))
}

func TestRegisterClientDuplicateIgnored(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	b.RegisterClient("c1", "first")
	b.RegisterClient("c1", "second")

	clients := b.ListClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "first", clients[0].LastEventID)
}

func TestRemoveClient(t *testing.T) {
	b := New(Options{})
	b.RegisterClient("c1", "")

	assert.True(t, b.RemoveClient("c1"))
	assert.False(t, b.RemoveClient("c1"))
	assert.Empty(t, b.ListClients())
}

func TestSweepEvictsEventsAndClients(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{
		EventMaxAge:       time.Hour,
		ClientIdleTimeout: 30 * time.Minute,
		Clock:             clock.Now,
	})

	b.Append(progressEvent(1))
	b.RegisterClient("c1", "")
	clock.Advance(2 * time.Hour)

	b.Sweep()

	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.ListClients())
}

func TestSweepCollapsesOverlappingRuns(t *testing.T) {
	b := New(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Sweep()
		}()
	}
	wg.Wait()

	assert.False(t, b.sweeping.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	b := New(Options{CleanupInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
