// SPDX-License-Identifier: MIT

package task

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/taskstream/internal/metrics"
)

// defaults for progress coalescing
const (
	defaultMinProgressInterval = 500 * time.Millisecond
	defaultMinProgressDelta    = 1.0 // percentage points
)

// progressGate coalesces progress updates: an update passes only when the
// minimum interval has elapsed and the percentage moved by at least the
// minimum delta. Forced updates (stage boundaries, terminal values) always
// pass and reset the gate.
type progressGate struct {
	limiter  *rate.Limiter
	minDelta float64
	lastPct  float64
	emitted  bool
}

func newProgressGate(minInterval time.Duration, minDelta float64) *progressGate {
	if minInterval <= 0 {
		minInterval = defaultMinProgressInterval
	}
	if minDelta <= 0 {
		minDelta = defaultMinProgressDelta
	}
	return &progressGate{
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		minDelta: minDelta,
	}
}

// allow reports whether a progress event at pct should be emitted.
func (g *progressGate) allow(pct float64, force bool) bool {
	if force {
		g.limiter.Allow() // consume a token so the next update waits again
		g.lastPct = pct
		g.emitted = true
		return true
	}
	if g.emitted && pct-g.lastPct < g.minDelta {
		metrics.ProgressThrottledTotal.Inc()
		return false
	}
	if !g.limiter.Allow() {
		metrics.ProgressThrottledTotal.Inc()
		return false
	}
	g.lastPct = pct
	g.emitted = true
	return true
}
