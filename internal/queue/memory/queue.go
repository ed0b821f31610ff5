// Package memory provides the in-process thread-job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadvine/harvester/internal/crawl"
)

// Queue is a bounded in-memory queue with context-aware operations. Closing
// the queue lets consumers drain the remaining jobs and then stop.
type Queue struct {
	ch     chan crawl.ThreadJob
	mu     sync.RWMutex
	closed bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawl.ThreadJob, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends. After
// Close it returns ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, job crawl.ThreadJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return crawl.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. After Close,
// remaining jobs are still delivered; once drained it returns ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawl.ThreadJob, error) {
	select {
	case <-ctx.Done():
		return crawl.ThreadJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return crawl.ThreadJob{}, crawl.ErrQueueClosed
		}
		return job, nil
	}
}

// Close marks the end of discovery. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
