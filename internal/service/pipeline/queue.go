package pipeline

import (
	"context"
	"sync"
	"time"
)

// Queue is a bounded FIFO shared by one producer stage and one consumer
// stage. No operation returns an error for an empty or full queue.
type Queue[T any] struct {
	name     string
	capacity int

	mu    sync.Mutex
	items []T
	// ready holds a token while items may be available; space does the
	// same for free slots.
	ready chan struct{}
	space chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		name:     name,
		capacity: capacity,
		items:    make([]T, 0, capacity),
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue[T]) Name() string { return q.name }

// Capacity returns the maximum number of items.
func (q *Queue[T]) Capacity() int { return q.capacity }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PushDropOldest appends v without blocking. When the queue is full the
// oldest item is discarded and returned with dropped set.
func (q *Queue[T]) PushDropOldest(v T) (old T, dropped bool) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		old = q.items[0]
		q.items = append(q.items[:0], q.items[1:]...)
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	signal(q.ready)
	return old, dropped
}

// Push appends v, waiting for space until ctx is done. It reports whether
// v was queued.
func (q *Queue[T]) Push(ctx context.Context, v T) bool {
	for {
		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, v)
			more := len(q.items) < q.capacity
			q.mu.Unlock()
			signal(q.ready)
			if more {
				signal(q.space)
			}
			return true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-q.space:
		}
	}
}

// Pop removes the oldest item, waiting up to timeout. It reports false on
// timeout or when ctx is done.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-timer.C:
			var zero T
			return zero, false
		case <-q.ready:
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	if remaining > 0 {
		signal(q.ready)
	}
	signal(q.space)
	return v, true
}

// Drain removes every pending item and returns how many were removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()

	if n > 0 {
		signal(q.space)
	}
	return n
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
