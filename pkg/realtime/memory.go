package realtime

import (
	"context"
	"sync"
)

type memorySubscription struct {
	ch     chan Event
	closed bool
	onceFn func()
	mu     sync.Mutex
}

func (s *memorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	fn := s.onceFn
	s.mu.Unlock()

	// Detach from the fanout outside the subscription lock; the fanout
	// takes its own lock and may concurrently be closing subscriptions.
	if fn != nil {
		fn()
	}
	return nil
}

// send delivers non-blocking; a full buffer drops the event rather than
// stalling the publisher.
func (s *memorySubscription) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// MemoryFanout is an in-process Fanout for development, tests and
// single-process deployments. Slow consumers lose events instead of
// blocking publishers.
type MemoryFanout struct {
	subs       map[string]map[*memorySubscription]struct{}
	bufferSize int
	closed     bool
	mu         sync.RWMutex
	cleanupWg  sync.WaitGroup
}

// NewMemoryFanout creates an in-memory fanout. bufferSize sets each
// subscription's channel buffer; a minimum of 1 is enforced so sends
// never block.
func NewMemoryFanout(bufferSize int) *MemoryFanout {
	return &MemoryFanout{
		subs:       make(map[string]map[*memorySubscription]struct{}),
		bufferSize: max(bufferSize, 1),
	}
}

func (f *MemoryFanout) Publish(ctx context.Context, userID string, event Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil
	}
	for sub := range f.subs[userID] {
		sub.send(event)
	}
	return nil
}

func (f *MemoryFanout) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &memorySubscription{ch: make(chan Event, f.bufferSize)}

	if f.closed {
		sub.closed = true
		close(sub.ch)
		return sub, nil
	}

	sub.onceFn = func() { f.remove(userID, sub) }

	if f.subs[userID] == nil {
		f.subs[userID] = make(map[*memorySubscription]struct{})
	}
	f.subs[userID][sub] = struct{}{}

	// Tie subscription lifetime to the caller's context.
	if ctx.Done() != nil {
		f.cleanupWg.Add(1)
		go func() {
			defer f.cleanupWg.Done()
			<-ctx.Done()
			_ = sub.Close()
		}()
	}

	return sub, nil
}

func (f *MemoryFanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true

	for _, set := range f.subs {
		for sub := range set {
			sub.mu.Lock()
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
			sub.mu.Unlock()
		}
	}
	clear(f.subs)
	f.mu.Unlock()

	f.cleanupWg.Wait()
	return nil
}

// remove is called from a subscription's Close; it runs without the
// subscription mutex held to avoid lock inversion.
func (f *MemoryFanout) remove(userID string, sub *memorySubscription) {
	// Closing during Close() already cleared the map.
	f.mu.Lock()
	defer f.mu.Unlock()

	if set, ok := f.subs[userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, userID)
		}
	}
}
