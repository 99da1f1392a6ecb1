package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with INCR plus EXPIRE in one pipeline,
// so the increment-with-expiry is a single round trip.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a redis-backed counter store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Count(ctx context.Context, key string) (int, error) {
	count, err := s.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	return count, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the expiry anchored at the window's first event instead
	// of sliding on every increment.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset rate counter: %w", err)
	}
	return nil
}
