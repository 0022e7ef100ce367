package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bulkhead caps how many calls run at once. The webhook workers share one so
// that a burst of queued events cannot flood the billing API.
type Bulkhead struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewBulkhead allows at most limit concurrent calls. limit is clamped to 1.
func NewBulkhead(limit int64) *Bulkhead {
	if limit < 1 {
		limit = 1
	}
	return &Bulkhead{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Do waits for a slot, runs fn and frees the slot. It returns ctx.Err()
// without calling fn when ctx ends first. A nil Bulkhead runs fn directly.
func (b *Bulkhead) Do(ctx context.Context, fn func()) error {
	if b == nil {
		fn()
		return nil
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	fn()
	return nil
}

// Limit returns the configured bound.
func (b *Bulkhead) Limit() int64 { return b.limit }
