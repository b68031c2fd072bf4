// Package memory provides an in-process bounded job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/progressive-loader/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan queue.Job
	done      chan struct{}
	closeOnce sync.Once
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan queue.Job, capacity),
		done: make(chan struct{}),
	}
}

// TryEnqueue pushes a job only if there is room right now.
func (q *Queue) TryEnqueue(job queue.Job) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return queue.ErrFull
	}
}

// Dequeue pops the next job. Jobs buffered before Close are still returned;
// ErrClosed follows once the buffer is empty.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	default:
	}
	select {
	case <-ctx.Done():
		return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return queue.Job{}, queue.ErrClosed
		}
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
