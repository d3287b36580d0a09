package verification

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leozw/custom-domains/internal/core"
)

type attemptKey struct {
	id   uuid.UUID
	axis core.Axis
}

type attemptCount struct {
	window time.Time
	last   time.Time
	n      int
}

// Attempts counts verification attempts per domain and axis in memory.
// Counts are tied to the verification window start, so a re-registration
// starts a fresh count even when performed by another process.
//
// At most one attempt is counted per spacing. Checks that arrive sooner,
// such as manual or webhook triggered ones, still run but do not use up
// the budget.
type Attempts struct {
	mu      sync.Mutex
	spacing time.Duration
	counts  map[attemptKey]attemptCount
}

func NewAttempts(spacing time.Duration) *Attempts {
	return &Attempts{spacing: spacing, counts: make(map[attemptKey]attemptCount)}
}

// Next records an attempt made at now and returns the attempt number,
// starting at 1.
func (a *Attempts) Next(id uuid.UUID, axis core.Axis, windowStart, now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := attemptKey{id, axis}
	c := a.counts[k]
	if !c.window.Equal(windowStart) {
		c = attemptCount{window: windowStart}
	}
	if c.n > 0 && a.spacing > 0 && now.Sub(c.last) < a.spacing {
		return c.n
	}
	c.n++
	c.last = now
	a.counts[k] = c
	return c.n
}

func (a *Attempts) Count(id uuid.UUID, axis core.Axis) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[attemptKey{id, axis}].n
}

func (a *Attempts) Forget(id uuid.UUID, axes ...core.Axis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, axis := range axes {
		delete(a.counts, attemptKey{id, axis})
	}
}
