// Package admission gates concurrent access to a limited resource with a
// semaphore. JobManager uses a capacity-1 Gate to enforce that at most one
// job is running at a time.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Gate limits how many callers may hold a slot simultaneously.
type Gate struct {
	capacity int32
	current  atomic.Int32
	slots    chan struct{}

	totalAcquired atomic.Int64
	rejected      atomic.Int64
}

// NewGate creates a Gate with the given capacity.
func NewGate(capacity int32) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("admission: capacity must be positive, got %d", capacity)
	}
	return &Gate{capacity: capacity, slots: make(chan struct{}, capacity)}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		g.current.Add(1)
		g.totalAcquired.Add(1)
		return nil
	case <-ctx.Done():
		g.rejected.Add(1)
		return fmt.Errorf("admission: failed to acquire slot: %w", ctx.Err())
	}
}

// TryAcquire acquires a slot without blocking.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		g.current.Add(1)
		g.totalAcquired.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (g *Gate) Release() {
	select {
	case <-g.slots:
		g.current.Add(-1)
	default:
		panic("admission: released more slots than acquired")
	}
}

// InUse reports whether any slot is currently held.
func (g *Gate) InUse() bool {
	return g.current.Load() > 0
}

// Metrics returns a snapshot of gate usage counters.
func (g *Gate) Metrics() map[string]int64 {
	return map[string]int64{
		"current":        int64(g.current.Load()),
		"total_acquired": g.totalAcquired.Load(),
		"rejected":       g.rejected.Load(),
	}
}
