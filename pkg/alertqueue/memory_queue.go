package alertqueue

import (
	"context"
	"errors"
	"time"

	"github.com/finflow/alertpipe/pkg/alert"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("alertqueue: queue full")

// MemoryQueue is a channel-backed Queue for development and tests.
type MemoryQueue struct {
	jobs chan alert.Job
}

// NewMemoryQueue creates an in-memory queue holding up to capacity jobs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan alert.Job, max(capacity, 1))}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job alert.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*alert.Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}
