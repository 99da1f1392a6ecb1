package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/finflow/alertpipe/pkg/logger"
)

const channelPrefix = "notify:user:"

func channelFor(userID string) string {
	return channelPrefix + userID
}

type redisSubscription struct {
	ch     chan Event
	closed bool
	onceFn func()
	mu     sync.Mutex
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	fn := s.onceFn
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

func (s *redisSubscription) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Full buffer drops the nudge; the persisted row remains.
	}
}

// RedisFanout carries events between processes over redis pub/sub.
// One shared subscriber connection per process is demultiplexed by
// channel name to local subscriptions, so a hundred open browser tabs
// still cost a single transport connection. The single reader goroutine
// preserves per-user publish order.
type RedisFanout struct {
	client     redis.UniversalClient
	pubsub     *redis.PubSub
	subs       map[string]map[*redisSubscription]struct{}
	bufferSize int
	log        *slog.Logger
	closed     bool
	mu         sync.Mutex
	readerWg   sync.WaitGroup
	cleanupWg  sync.WaitGroup
}

// RedisFanoutOption configures a RedisFanout.
type RedisFanoutOption func(*RedisFanout)

// WithRedisFanoutLogger sets the logger used for decode failures.
func WithRedisFanoutLogger(log *slog.Logger) RedisFanoutOption {
	return func(f *RedisFanout) {
		if log != nil {
			f.log = log
		}
	}
}

// WithRedisFanoutBuffer sets each subscription's channel buffer size.
func WithRedisFanoutBuffer(size int) RedisFanoutOption {
	return func(f *RedisFanout) {
		f.bufferSize = max(size, 1)
	}
}

// NewRedisFanout creates a redis-backed fanout and starts its reader
// goroutine. Call Close to stop it.
func NewRedisFanout(client redis.UniversalClient, opts ...RedisFanoutOption) *RedisFanout {
	f := &RedisFanout{
		client:     client,
		subs:       make(map[string]map[*redisSubscription]struct{}),
		bufferSize: 16,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	// Subscribe with no channels yet; channels are added and removed as
	// local subscriptions come and go.
	f.pubsub = client.Subscribe(context.Background())

	f.readerWg.Add(1)
	go f.readLoop()

	return f
}

func (f *RedisFanout) Publish(ctx context.Context, userID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(userID), data).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

func (f *RedisFanout) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	channel := channelFor(userID)

	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &redisSubscription{ch: make(chan Event, f.bufferSize)}

	if f.closed {
		sub.closed = true
		close(sub.ch)
		return sub, nil
	}

	if f.subs[channel] == nil {
		f.subs[channel] = make(map[*redisSubscription]struct{})
		// First local subscriber for this user: attach the shared
		// transport connection to their channel.
		if err := f.pubsub.Subscribe(ctx, channel); err != nil {
			delete(f.subs, channel)
			return nil, fmt.Errorf("subscribe channel %s: %w", channel, err)
		}
	}
	f.subs[channel][sub] = struct{}{}

	sub.onceFn = func() { f.remove(channel, sub) }

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

func (f *RedisFanout) Close() error {
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

	// Closing the PubSub ends the read loop.
	err := f.pubsub.Close()
	f.readerWg.Wait()
	f.cleanupWg.Wait()
	return err
}

// readLoop demultiplexes messages from the shared connection to local
// subscriptions. It exits when the PubSub is closed.
func (f *RedisFanout) readLoop() {
	defer f.readerWg.Done()

	for msg := range f.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			f.log.LogAttrs(context.Background(), slog.LevelWarn, "dropping undecodable realtime event",
				slog.String("redis_channel", msg.Channel),
				logger.Error(err),
			)
			continue
		}

		f.mu.Lock()
		subs := make([]*redisSubscription, 0, len(f.subs[msg.Channel]))
		for sub := range f.subs[msg.Channel] {
			subs = append(subs, sub)
		}
		f.mu.Unlock()

		for _, sub := range subs {
			sub.send(ev)
		}
	}
}

// remove detaches a closed subscription; the last one for a channel also
// detaches the shared connection from that channel.
func (f *RedisFanout) remove(channel string, sub *redisSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.subs[channel]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, channel)
		if !f.closed {
			_ = f.pubsub.Unsubscribe(context.Background(), channel)
		}
	}
}
