// Package queue implements a FIFO queue with a wake-on-push signal, used for
// per-client outbound traffic and for the shared inbound event streams.
package queue

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("queue: closed")

	// ErrFull is returned by Push when the queue holds limit items.
	ErrFull = errors.New("queue: full")
)

// Queue is a thread-safe FIFO. Producers never block; a consumer waits on
// Ready and then calls Drain.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	limit  int
	closed bool
	ready  chan struct{}

	// Stats
	totalPushed  int64
	totalDropped int64
}

// New creates a queue holding at most limit items. A limit of zero or less
// means unbounded.
func New[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends an item and wakes a waiting consumer.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.totalDropped++
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, item)
	q.totalPushed++
	q.mu.Unlock()

	q.signal()
	return nil
}

// Drain removes and returns every queued item in FIFO order. It never
// blocks and returns nil when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Ready returns a channel that receives a value after one or more pushes.
// A single signal may cover several items, so consumers must Drain fully.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes. Items already queued remain drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:      len(q.items),
		Limit:        q.limit,
		TotalPushed:  q.totalPushed,
		TotalDropped: q.totalDropped,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Pending      int   `json:"pending"`
	Limit        int   `json:"limit"`
	TotalPushed  int64 `json:"total_pushed"`
	TotalDropped int64 `json:"total_dropped"`
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
