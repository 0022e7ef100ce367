package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkheadCapsConcurrency(t *testing.T) {
	const limit = 2
	b := NewBulkhead(limit)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Do(context.Background(), func() {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
}

func TestBulkheadCancelledWhileWaiting(t *testing.T) {
	b := NewBulkhead(1)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Do(context.Background(), func() {
			close(held)
			<-release
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if err := b.Do(ctx, func() { called = true }); err == nil {
		t.Fatal("expected context error")
	}
	if called {
		t.Fatal("fn must not run without a slot")
	}
}

func TestBulkheadClampsAndNil(t *testing.T) {
	if NewBulkhead(0).Limit() != 1 {
		t.Fatal("limit 0 must clamp to 1")
	}
	var b *Bulkhead
	ran := false
	if err := b.Do(context.Background(), func() { ran = true }); err != nil || !ran {
		t.Fatal("nil bulkhead must run fn directly")
	}
}
