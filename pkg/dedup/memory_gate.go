package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryGate is an in-process Gate for development and tests. Expiry is
// evaluated lazily on access, mirroring TTL semantics closely enough
// for the worker's state machine.
type MemoryGate struct {
	triggered map[string]time.Time // alertID -> expiry
	locks     map[string]time.Time // alertID -> expiry
	mu        sync.Mutex
}

// NewMemoryGate creates an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		triggered: make(map[string]time.Time),
		locks:     make(map[string]time.Time),
	}
}

func (g *MemoryGate) IsTriggered(ctx context.Context, alertID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.triggered[alertID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(g.triggered, alertID)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGate) MarkTriggered(ctx context.Context, alertID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTriggerTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.triggered[alertID]; ok && time.Now().Before(expiry) {
		return nil
	}
	g.triggered[alertID] = time.Now().Add(ttl)
	return nil
}

func (g *MemoryGate) TryLock(ctx context.Context, alertID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.locks[alertID]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	g.locks[alertID] = time.Now().Add(ttl)
	return true, nil
}

func (g *MemoryGate) Unlock(ctx context.Context, alertID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.locks, alertID)
	return nil
}
