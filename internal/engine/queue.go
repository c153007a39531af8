package engine

import (
	"sync"

	"github.com/roach88/storetest/action"
)

// delivery is one container notification waiting to be processed.
type delivery[S any] struct {
	action     *action.Action
	snapshot   S
	duringInit bool
}

// inbox is a thread-safe FIFO of deliveries.
//
// The container may notify from any goroutine (store effects, timers, tracked
// async work). Notifications are only enqueued here; the goroutine running the
// engine dequeues them one at a time, so all engine state has a single owner
// and deliveries are reconciled in the order they were made.
//
// The signal channel enables context-aware waiting in the main loop.
type inbox[S any] struct {
	mu         sync.Mutex
	deliveries []delivery[S]
	closed     bool
	signal     chan struct{} // buffered, size 1
}

func newInbox[S any]() *inbox[S] {
	return &inbox[S]{
		deliveries: make([]delivery[S], 0, 16),
		signal:     make(chan struct{}, 1),
	}
}

// Enqueue adds a delivery to the back of the inbox.
// Returns false if the inbox is closed.
func (q *inbox[S]) Enqueue(d delivery[S]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.deliveries = append(q.deliveries, d)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front delivery without blocking.
func (q *inbox[S]) TryDequeue() (delivery[S], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.deliveries) == 0 {
		return delivery[S]{}, false
	}
	d := q.deliveries[0]
	// Release the snapshot for GC.
	q.deliveries[0] = delivery[S]{}
	if len(q.deliveries) == 1 {
		q.deliveries = q.deliveries[:0]
	} else {
		q.deliveries = q.deliveries[1:]
	}
	return d, true
}

// Wait returns a channel that signals when deliveries may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // TryDequeue until empty
//	}
func (q *inbox[S]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued deliveries.
func (q *inbox[S]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deliveries)
}

// Close rejects further deliveries and drops queued ones.
func (q *inbox[S]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.deliveries = nil
	close(q.signal)
}
