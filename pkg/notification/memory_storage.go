package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of Storage for development
// and tests. It enforces the same (user, source, source id, type)
// uniqueness as the database-backed store so dedup behavior matches.
type MemoryStorage struct {
	byUser map[string][]Notification
	nextID int64
	mu     sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory notification store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byUser: make(map[string][]Notification),
		nextID: 1,
	}
}

func (s *MemoryStorage) Create(ctx context.Context, notif *Notification) error {
	if err := notif.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.byUser[notif.UserID] {
		if n.Source == notif.Source && n.SourceID == notif.SourceID && n.Type == notif.Type {
			return ErrDuplicate
		}
	}

	notif.ID = s.nextID
	s.nextID++
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now()
	}

	s.byUser[notif.UserID] = append(s.byUser[notif.UserID], *notif)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, userID, source, sourceID string, typ Type) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.byUser[userID] {
		if n.Source == source && n.SourceID == sourceID && n.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) Get(ctx context.Context, userID string, id int64) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.byUser[userID] {
		if n.ID == id {
			// Return a copy to prevent external mutation of stored data.
			notif := n
			return &notif, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []Notification
	for _, n := range s.byUser[userID] {
		if opts.OnlyUnread && n.Read {
			continue
		}
		if len(opts.Types) > 0 {
			match := false
			for _, t := range opts.Types {
				if n.Type == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if opts.Since != nil && n.CreatedAt.Before(*opts.Since) {
			continue
		}
		filtered = append(filtered, n)
	}

	// Newest first, matching the ORDER BY of the postgres store.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(filtered) {
		return []Notification{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) MarkRead(ctx context.Context, userID string, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	notifs := s.byUser[userID]
	for i := range notifs {
		if idSet[notifs[i].ID] {
			notifs[i].Read = true
		}
	}
	return nil
}

func (s *MemoryStorage) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notifs := s.byUser[userID]
	for i := range notifs {
		notifs[i].Read = true
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, userID string, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var kept []Notification
	for _, n := range s.byUser[userID] {
		if !idSet[n.ID] {
			kept = append(kept, n)
		}
	}
	s.byUser[userID] = kept
	return nil
}

func (s *MemoryStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}
