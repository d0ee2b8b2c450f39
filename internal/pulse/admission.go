package pulse

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConnections is the admission capacity used when none is configured.
const DefaultMaxConnections = 100

// Admission bounds the number of simultaneous outbound connection attempts
// across the whole fleet. Every probe acquires one permit before dialing and
// releases it when the attempt concludes.
type Admission struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewAdmission creates an admission controller with the given capacity.
// Non-positive capacities fall back to DefaultMaxConnections.
func NewAdmission(capacity int) *Admission {
	if capacity < 1 {
		capacity = DefaultMaxConnections
	}
	return &Admission{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a permit is available or ctx is done. On error the
// caller holds no permit and must not call Release.
func (a *Admission) Acquire(ctx context.Context) error {
	return a.sem.Acquire(ctx, 1)
}

// Release returns a permit obtained by a successful Acquire.
func (a *Admission) Release() {
	a.sem.Release(1)
}

// Capacity returns the configured permit count.
func (a *Admission) Capacity() int {
	return a.capacity
}
