// Package permit implements the outbound permit semaphore of spec.md §4.4.
package permit

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Clamp bounds, spec.md §4.4 / §6.
const (
	MinMaxTotal    = 8
	MaxMaxTotal    = 1000
	MinMaxOutbound = 4
	MaxMaxOutbound = 100
)

// Clamp applies the clamps from spec.md §4.4/§6 and the
// max_outbound<=max_total constraint, returning the clamped pair.
func Clamp(maxTotal, maxOutbound int) (int, int) {
	if maxTotal < MinMaxTotal {
		maxTotal = MinMaxTotal
	}
	if maxTotal > MaxMaxTotal {
		maxTotal = MaxMaxTotal
	}
	if maxOutbound < MinMaxOutbound {
		maxOutbound = MinMaxOutbound
	}
	if maxOutbound > MaxMaxOutbound {
		maxOutbound = MaxMaxOutbound
	}
	if maxOutbound > maxTotal {
		maxOutbound = maxTotal
	}
	return maxTotal, maxOutbound
}

// Semaphore is a counting semaphore sized to min(maxOutbound, maxTotal); a
// dialer acquires one Permit before dialing and moves it into the peer
// session for the session's lifetime.
type Semaphore struct {
	sem  *semaphore.Weighted
	size int64
}

// New builds a Semaphore already clamped per Clamp.
func New(maxTotal, maxOutbound int) *Semaphore {
	_, maxOutbound = Clamp(maxTotal, maxOutbound)
	return &Semaphore{sem: semaphore.NewWeighted(int64(maxOutbound)), size: int64(maxOutbound)}
}

// Size returns the configured number of permits.
func (s *Semaphore) Size() int64 { return s.size }

// Permit is a single held slot. A nil *Permit means "no permit held" (an
// inbound peer never holds one).
type Permit struct {
	s        *Semaphore
	released bool
}

// Acquire blocks (respecting ctx cancellation) until a permit is free, then
// returns it. Callers must call Release exactly once.
func (s *Semaphore) Acquire(ctx context.Context) (*Permit, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{s: s}, nil
}

// Release returns the permit to the semaphore; safe to call at most once,
// a second call is a no-op so disconnect-path cleanup can be unconditional.
func (p *Permit) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	p.s.sem.Release(1)
}

// Note: spec.md §4.4 describes shutdown as "the reactor posts max_outbound
// permits to unblock dialers" because the source uses a raw counting
// semaphore with no cancellation primitive. golang.org/x/sync/semaphore's
// Acquire takes a context, so this module unblocks dialers by cancelling
// the shared root context instead of over-releasing the semaphore (which
// would panic: Weighted.Release rejects releasing more than is held).
