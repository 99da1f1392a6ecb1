package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
// Expired windows are dropped lazily on access.
type MemoryStore struct {
	windows map[string]*window
	mu      sync.Mutex
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) Count(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || time.Now().After(w.expiresAt) {
		delete(s.windows, key)
		return 0, nil
	}
	return w.count, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, windowDur time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || time.Now().After(w.expiresAt) {
		w = &window{expiresAt: time.Now().Add(windowDur)}
		s.windows[key] = w
	}
	w.count++
	return w.count, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, key)
	return nil
}
