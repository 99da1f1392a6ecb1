package alertqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finflow/alertpipe/pkg/alert"
)

// Config holds queue settings.
type Config struct {
	ListName string `env:"ALERT_QUEUE_NAME" envDefault:"alerts:queue"`
}

// RedisQueue is a redis-list-backed Queue. Jobs are JSON documents
// pushed with LPUSH and popped with BRPOP, giving FIFO order across any
// number of producer and worker processes.
type RedisQueue struct {
	client redis.UniversalClient
	list   string
}

// NewRedisQueue creates a queue on the given redis list.
func NewRedisQueue(client redis.UniversalClient, cfg Config) *RedisQueue {
	return &RedisQueue{client: client, list: cfg.ListName}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job alert.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal alert job: %w", err)
	}
	if err := q.client.LPush(ctx, q.list, data).Err(); err != nil {
		return fmt.Errorf("enqueue alert job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*alert.Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Timed out with nothing to pop; the consumer loop decides
			// whether to spin again or shut down.
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue alert job: %w", err)
	}

	// BRPop returns [list, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue alert job: unexpected reply of %d elements", len(res))
	}

	var job alert.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode alert job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.list).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
