// SPDX-License-Identifier: MIT

package buffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/taskstream/internal/sse"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func progressEvent(pct float64) sse.Event {
	return sse.Event{Payload: sse.ProgressPayload{Percentage: pct}}
}

func eventIDs(events []sse.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	b := New(Options{Clock: newFakeClock().Now})
	stored := b.Append(progressEvent(1))
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())
	assert.Equal(t, time.UTC, stored.Timestamp.Location())
}

func TestAppendDropOldestAtCapacity(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{MaxSize: 3, Clock: clock.Now})

	var stored []sse.Event
	for i := 0; i < 4; i++ {
		stored = append(stored, b.Append(progressEvent(float64(i))))
	}

	// P4: capacity N keeps exactly the N most recent appends.
	require.Equal(t, 3, b.Len())
	got := b.EventsSince("", 10)
	assert.Equal(t, eventIDs(stored[1:]), eventIDs(got))
}

func TestEventsSinceKnownCursor(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	e1 := b.Append(progressEvent(1))
	e2 := b.Append(progressEvent(2))
	e3 := b.Append(progressEvent(3))

	got := b.EventsSince(e1.ID, 10)
	assert.Equal(t, []string{e2.ID, e3.ID}, eventIDs(got))

	// events strictly after the cursor only
	got = b.EventsSince(e3.ID, 10)
	assert.Empty(t, got)
}

func TestEventsSinceUnknownCursorFallsBackToRecent(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{DefaultEventCount: 2, Clock: clock.Now})

	b.Append(progressEvent(1))
	e2 := b.Append(progressEvent(2))
	e3 := b.Append(progressEvent(3))

	got := b.EventsSince("no-such-event", 10)
	assert.Equal(t, []string{e2.ID, e3.ID}, eventIDs(got))

	// same fallback without any cursor
	got = b.EventsSince("", 10)
	assert.Equal(t, []string{e2.ID, e3.ID}, eventIDs(got))
}

func TestEventsSinceRespectsMaxCount(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{MaxEventsPerRequest: 100, Clock: clock.Now})

	first := b.Append(progressEvent(0))
	var rest []sse.Event
	for i := 1; i <= 5; i++ {
		rest = append(rest, b.Append(progressEvent(float64(i))))
	}

	got := b.EventsSince(first.ID, 2)
	assert.Equal(t, eventIDs(rest[:2]), eventIDs(got))
}

func TestEventsSinceIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	cursor := b.Append(progressEvent(0))
	for i := 1; i <= 4; i++ {
		b.Append(progressEvent(float64(i)))
	}

	// P5: no intervening append means identical results.
	first := b.EventsSince(cursor.ID, 10)
	second := b.EventsSince(cursor.ID, 10)
	if diff := cmp.Diff(eventIDs(first), eventIDs(second)); diff != "" {
		t.Fatalf("replay differs (-first +second):\n%s", diff)
	}
}

func TestEventsSinceChronologicalOrdering(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{DefaultEventCount: 100, Clock: clock.Now})

	for i := 0; i < 20; i++ {
		b.Append(progressEvent(float64(i)))
	}

	got := b.EventsSince("", 100)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Before(got[i]), "events out of (timestamp, id) order at %d", i)
	}
}

func TestCapacityTwoScenario(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{MaxSize: 2, DefaultEventCount: 10, Clock: clock.Now})

	b.Append(sse.Event{ID: "E1", Payload: sse.ProgressPayload{Percentage: 1}})
	b.Append(sse.Event{ID: "E2", Payload: sse.ProgressPayload{Percentage: 2}})
	b.Append(sse.Event{ID: "E3", Payload: sse.ProgressPayload{Percentage: 3}})

	assert.Equal(t, []string{"E2", "E3"}, eventIDs(b.EventsSince("", 10)))
	assert.Equal(t, []string{"E3"}, eventIDs(b.EventsSince("E2", 10)))
	assert.Equal(t, []string{"E2", "E3"}, eventIDs(b.EventsSince("unknown", 10)))
}

func TestAppendIgnoresDuplicateID(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	b.Append(sse.Event{ID: "dup", Payload: sse.ProgressPayload{Percentage: 1}})
	b.Append(sse.Event{ID: "dup", Payload: sse.ProgressPayload{Percentage: 2}})

	require.Equal(t, 1, b.Len())
	got := b.EventsSince("", 10)
	require.Len(t, got, 1)
	assert.Equal(t, sse.ProgressPayload{Percentage: 1}, got[0].Payload)
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	b := New(Options{MaxSize: 128})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(sse.Event{ID: fmt.Sprintf("w%d-%d", w, i), Payload: sse.ProgressPayload{Percentage: float64(i)}})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.EventsSince("", 10)
				_ = b.Stats()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Len(), 128)
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	b := New(Options{Clock: clock.Now})

	assert.Equal(t, Statistics{}, b.Stats())

	first := b.Append(progressEvent(1))
	last := b.Append(progressEvent(2))
	b.RegisterClient("c1", "")

	stats := b.Stats()
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.TotalClients)
	assert.True(t, stats.OldestEventTime.Equal(first.Timestamp))
	assert.True(t, stats.NewestEventTime.Equal(last.Timestamp))
}
