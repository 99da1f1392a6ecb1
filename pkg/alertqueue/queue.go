// Package alertqueue provides the durable FIFO of pending alert
// delivery jobs shared by producer and worker processes.
//
// The queue alone guarantees at-least-once delivery of a job
// description; at-most-once processing per alert id is enforced
// downstream by the dedup gate's processing lock, not here.
package alertqueue

import (
	"context"
	"time"

	"github.com/finflow/alertpipe/pkg/alert"
)

// Queue is a FIFO of alert jobs.
type Queue interface {
	// Enqueue appends a job to the tail of the queue.
	Enqueue(ctx context.Context, job alert.Job) error

	// Dequeue pops the next job, blocking up to timeout. A timeout is
	// not an error: it returns (nil, nil) so consumer loops stay
	// responsive to shutdown without busy-polling.
	Dequeue(ctx context.Context, timeout time.Duration) (*alert.Job, error)

	// Len returns the number of pending jobs.
	Len(ctx context.Context) (int64, error)
}
