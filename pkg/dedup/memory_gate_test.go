package dedup_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow/alertpipe/pkg/dedup"
)

func TestMemoryGateTriggeredMarker(t *testing.T) {
	ctx := context.Background()

	t.Run("unset by default", func(t *testing.T) {
		g := dedup.NewMemoryGate()
		triggered, err := g.IsTriggered(ctx, "invoice:42:v1")
		require.NoError(t, err)
		assert.False(t, triggered)
	})

	t.Run("set after mark", func(t *testing.T) {
		g := dedup.NewMemoryGate()
		require.NoError(t, g.MarkTriggered(ctx, "invoice:42:v1", time.Minute))

		triggered, err := g.IsTriggered(ctx, "invoice:42:v1")
		require.NoError(t, err)
		assert.True(t, triggered)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		g := dedup.NewMemoryGate()
		require.NoError(t, g.MarkTriggered(ctx, "invoice:42:v1", 10*time.Millisecond))
		time.Sleep(20 * time.Millisecond)

		triggered, err := g.IsTriggered(ctx, "invoice:42:v1")
		require.NoError(t, err)
		assert.False(t, triggered)
	})
}

func TestMemoryGateLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	g := dedup.NewMemoryGate()

	// N concurrent workers race the same alert id; exactly one wins.
	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryLock(ctx, "invoice:42:v1", time.Minute)
			require.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryGateLockRelease(t *testing.T) {
	ctx := context.Background()
	g := dedup.NewMemoryGate()

	ok, err := g.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must refuse a second acquisition")

	require.NoError(t, g.Unlock(ctx, "a"))

	ok, err = g.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released lock must be acquirable again")
}

func TestMemoryGateLockTTLSelfHeals(t *testing.T) {
	ctx := context.Background()
	g := dedup.NewMemoryGate()

	ok, err := g.TryLock(ctx, "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulates a crashed holder: no Unlock, the TTL frees the key.
	time.Sleep(20 * time.Millisecond)

	ok, err = g.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGateDistinctAlertsAreIndependent(t *testing.T) {
	ctx := context.Background()
	g := dedup.NewMemoryGate()

	ok, err := g.TryLock(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks on distinct alert ids must not contend")
}
