package conversion

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueCapacity is the number of jobs that may wait for the worker.
const DefaultQueueCapacity = 5

var ErrQueueFull = errors.New("conversion queue is full")

// Queue is a bounded FIFO of job ids. Enqueue never blocks; Dequeue waits
// for work.
type Queue struct {
	mu       sync.Mutex
	items    []string
	reserved int
	capacity int
	notify   chan struct{}
}

// NewQueue creates a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]string, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends id and returns its 1-based position.
func (q *Queue) Enqueue(id string) (int, error) {
	q.mu.Lock()
	if len(q.items)+q.reserved >= q.capacity {
		q.mu.Unlock()
		return 0, ErrQueueFull
	}
	return q.push(id), nil
}

// Reserve holds a slot for a submission that is still downloading. The
// slot is turned into a queue entry by Commit or given back by Release.
func (q *Queue) Reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)+q.reserved >= q.capacity {
		return ErrQueueFull
	}
	q.reserved++
	return nil
}

// Release gives back a slot taken by Reserve.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reserved > 0 {
		q.reserved--
	}
}

// Commit appends id into a slot taken by Reserve.
func (q *Queue) Commit(id string) int {
	q.mu.Lock()
	if q.reserved > 0 {
		q.reserved--
	}
	return q.push(id)
}

// push appends id with q.mu held and unlocks it.
func (q *Queue) push(id string) int {
	q.items = append(q.items, id)
	position := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return position
}

// Dequeue removes the oldest id, waiting until one is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

// Remove withdraws a pending id. It reports false when id is not queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the 1-based position of id, or 0 when not queued.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == id {
			return i + 1
		}
	}
	return 0
}

// Size returns the number of pending jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Full reports whether Enqueue or Reserve would be rejected right now.
// Reserved slots count as taken.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)+q.reserved >= q.capacity
}

func (q *Queue) Capacity() int {
	return q.capacity
}
