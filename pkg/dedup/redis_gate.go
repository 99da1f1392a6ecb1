package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	triggerKeyPrefix = "alerts:triggered:"
	lockKeyPrefix    = "alerts:lock:"
)

// RedisGate implements Gate on redis. SET NX provides the atomic
// set-if-absent both primitives need.
type RedisGate struct {
	client redis.UniversalClient
}

// NewRedisGate creates a redis-backed dedup gate.
func NewRedisGate(client redis.UniversalClient) *RedisGate {
	return &RedisGate{client: client}
}

func (g *RedisGate) IsTriggered(ctx context.Context, alertID string) (bool, error) {
	err := g.client.Get(ctx, triggerKeyPrefix+alertID).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("check triggered marker: %w", err)
	}
	return true, nil
}

func (g *RedisGate) MarkTriggered(ctx context.Context, alertID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTriggerTTL
	}
	// SetNX keeps the window anchored at first delivery even if two
	// workers race past the lock on different job descriptions.
	if err := g.client.SetNX(ctx, triggerKeyPrefix+alertID, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	return nil
}

func (g *RedisGate) TryLock(ctx context.Context, alertID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	ok, err := g.client.SetNX(ctx, lockKeyPrefix+alertID, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire processing lock: %w", err)
	}
	return ok, nil
}

func (g *RedisGate) Unlock(ctx context.Context, alertID string) error {
	if err := g.client.Del(ctx, lockKeyPrefix+alertID).Err(); err != nil {
		return fmt.Errorf("release processing lock: %w", err)
	}
	return nil
}
