package concurrency

import (
	"context"
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // don't compact below this capacity
	compactShrinkFactor = 4  // compact when len < cap/4
)

// Queue is an unbounded FIFO safe for any number of producers and consumers.
//
// Every read and write of the underlying slice happens under mu. Consumers
// park on cond and re-check the emptiness predicate after every wake, so
// spurious wakeups and several waiters racing one Signal are harmless.
//
// Each pushed value is handed to at most one successful pop. Push order is
// preserved as seen by any single consumer; nothing is promised about the
// interleaving observed across consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{items: make([]T, 0, defaultQueueCap)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Clone returns a new queue holding a snapshot of q's contents, taken under
// q's lock. q is not drained. The clone starts open.
func (q *Queue[T]) Clone() *Queue[T] {
	q.mu.Lock()
	items := make([]T, len(q.items), max(len(q.items), defaultQueueCap))
	copy(items, q.items)
	q.mu.Unlock()

	c := &Queue[T]{items: items}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Push appends v and wakes one blocked consumer, if any.
// Push never blocks on consumers and never fails; values pushed after Close
// are still delivered to pops.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitAndPop blocks until the queue is non-empty and removes the head.
// On a closed queue it keeps returning items until empty, then ErrQueueClosed.
func (q *Queue[T]) WaitAndPop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			var zero T
			return zero, ErrQueueClosed
		}
		q.cond.Wait()
	}
	return q.popLocked(), nil
}

// WaitAndPopContext is WaitAndPop bounded by ctx. It returns ctx.Err() if
// ctx ends while the queue is empty.
func (q *Queue[T]) WaitAndPopContext(ctx context.Context) (T, error) {
	// The broadcast takes mu, so it cannot slip in between our ctx check and
	// cond.Wait releasing the lock.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		var zero T
		if q.closed {
			return zero, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		q.cond.Wait()
	}
	return q.popLocked(), nil
}

// TryPop removes and returns the head if there is one. It never waits for
// an item.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Empty reports whether the queue was empty at the moment of the call.
// The answer may be stale by the time it is read; use it for heuristics only.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Len is a point-in-time count of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	clear(q.items)
	q.items = make([]T, 0, defaultQueueCap)
	return n
}

// Close marks the queue closed and wakes every parked consumer. Queued items
// stay poppable; only waiting on an empty queue stops. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// IsClosed reports whether Close has been called.
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[0]
	// Zero the slot so the backing array does not pin the value
	q.items[0] = zero
	q.items = q.items[1:]
	q.maybeCompactLocked()
	return v
}

func (q *Queue[T]) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]T, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	items := make([]T, n, max(max(c/2, defaultQueueCap), n))
	copy(items, q.items)
	q.items = items
}
