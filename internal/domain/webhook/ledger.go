package webhook

import (
	"container/list"
	"sync"
)

// DefaultLedgerCapacity bounds the number of remembered event ids.
const DefaultLedgerCapacity = 1000

// Ledger is a bounded set of processed event ids. Inserting past capacity
// evicts the oldest id. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest
	index    map[string]*list.Element
}

// NewLedger creates a Ledger holding at most capacity ids.
func NewLedger(capacity int) *Ledger {
	if capacity < 1 {
		capacity = DefaultLedgerCapacity
	}
	return &Ledger{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen reports whether id has been marked.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// MarkSeen records id and reports whether it was new. The check and the
// insert happen under one lock, so exactly one of several concurrent callers
// with the same id gets true.
func (l *Ledger) MarkSeen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; ok {
		return false
	}
	if l.order.Len() >= l.capacity {
		oldest := l.order.Front()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
	l.index[id] = l.order.PushBack(id)
	return true
}

// Forget removes id. Only used when an accepted event never reached dispatch.
func (l *Ledger) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.index[id]; ok {
		l.order.Remove(el)
		delete(l.index, id)
	}
}

// Len returns the number of resident ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Capacity returns the configured bound.
func (l *Ledger) Capacity() int {
	return l.capacity
}
