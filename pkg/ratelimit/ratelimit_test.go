package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow/alertpipe/pkg/ratelimit"
)

func TestLimiterBound(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(store, "ratelimit:test", ratelimit.Config{Max: 3, Window: time.Minute})

	// The first Max events are allowed.
	for i := range 3 {
		allowed, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, allowed, "event %d should be allowed", i+1)
		require.NoError(t, limiter.Record(ctx, "user-1"))
	}

	// The next attempt in the same window is suppressed.
	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiterWindowReset(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(store, "ratelimit:test", ratelimit.Config{Max: 1, Window: 20 * time.Millisecond})

	require.NoError(t, limiter.Record(ctx, "user-1"))

	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, allowed)

	// After the window expires the count resets to zero.
	time.Sleep(30 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(store, "ratelimit:test", ratelimit.Config{Max: 1, Window: time.Minute})

	require.NoError(t, limiter.Record(ctx, "user-1"))

	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, allowed, "another user's window must be unaffected")
}

func TestLimiterCompositeKeys(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.NewEmailLimiter(store)

	require.NoError(t, limiter.Record(ctx, "user-1", "invoice"))
	require.NoError(t, limiter.Record(ctx, "user-1", "invoice"))
	require.NoError(t, limiter.Record(ctx, "user-1", "invoice"))

	allowed, err := limiter.Allow(ctx, "user-1", "invoice")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different category for the same user has its own counter.
	allowed, err = limiter.Allow(ctx, "user-1", "price_alert")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiterReset(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(store, "ratelimit:test", ratelimit.Config{Max: 1, Window: time.Minute})

	require.NoError(t, limiter.Record(ctx, "user-1"))
	require.NoError(t, limiter.Reset(ctx, "user-1"))

	allowed, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
