package audit

import "sync"

// Buffer is a capped, append-only entry store. Appending past capacity drops
// the oldest entry.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	start    int
	pruned   int64
}

// NewBuffer creates a Buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, entries: make([]Entry, 0, capacity)}
}

// Append adds e, pruning the oldest entry when full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, e)
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % b.capacity
	b.pruned++
}

// Snapshot returns entries oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.start:]...)
	out = append(out, b.entries[:b.start]...)
	return out
}

// Recent returns at most n entries, newest first.
func (b *Buffer) Recent(n int) []Entry {
	all := b.Snapshot()
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]Entry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// Len returns the number of resident entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Pruned returns how many entries were dropped for capacity.
func (b *Buffer) Pruned() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pruned
}

// Capacity returns the configured bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}
