// Package queue provides the in-process FIFO used between ingestion and
// processing, and as the private reply mailbox of each live web client.
package queue

import (
	"context"
	"sync"
)

// FIFO is a first-in first-out queue whose producers never block.
//
// Pop suspends the caller until an item is available, the context is done, or
// the queue is closed. A FIFO is unbounded unless built WithCapacity, in which
// case pushes past the high-water mark are rejected instead of blocking.
type FIFO[T any] struct {
	capacity  int
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	items []T
}

// Option configures a FIFO at construction time.
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity rejects pushes once n items are waiting. n <= 0 means unbounded.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// NewFIFO builds an empty FIFO.
func NewFIFO[T any](opts ...Option) *FIFO[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &FIFO[T]{
		capacity: o.capacity,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends item. It returns false when the queue is closed or full.
func (q *FIFO[T]) Push(item T) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop waits for the oldest item and removes it.
func (q *FIFO[T]) Pop(ctx context.Context) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.done:
			return zero, false
		case <-q.wake:
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *FIFO[T]) TryPop() (T, bool) {
	var zero T

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	// Pass the wake-up along so another waiting consumer sees the rest.
	if remaining > 0 {
		q.signal()
	}

	return item, true
}

// Len reports the number of waiting items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue. Waiting and future Pop calls return false.
func (q *FIFO[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Done is closed once the queue is closed.
func (q *FIFO[T]) Done() <-chan struct{} {
	return q.done
}

func (q *FIFO[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
