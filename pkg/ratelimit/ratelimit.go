// Package ratelimit bounds side-channel volume with fixed-window
// counters in the shared store, one counter per (user, channel) or
// (user, channel, category) key.
//
// The check (Allow) and the increment (Record) are deliberately two
// separate calls rather than one atomic script. Under concurrent
// workers this can let at most one extra delivery slip past the limit
// per window; alerts are low-value and non-monetary, so the overshoot
// is accepted in exchange for simpler store semantics. Fold the two
// into a Lua script if strict bounds ever matter.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Store is the counter backend.
type Store interface {
	// Count returns the current value of the window counter, 0 when the
	// key is absent or expired.
	Count(ctx context.Context, key string) (int, error)

	// Incr atomically increments the counter and starts its expiry
	// window. It must be a single round trip (increment-with-expiry),
	// never a read-then-write.
	Incr(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset clears the counter.
	Reset(ctx context.Context, key string) error
}

// Config defines one limit: at most Max events per Window.
type Config struct {
	Max    int
	Window time.Duration
}

// Limiter enforces a fixed-window limit over keys built from its prefix
// and the caller-supplied parts.
type Limiter struct {
	store  Store
	config Config
	prefix string
}

// New creates a limiter. The prefix namespaces its counters in the
// shared store (e.g. "ratelimit:toast").
func New(store Store, prefix string, config Config) *Limiter {
	return &Limiter{store: store, config: config, prefix: prefix}
}

// Allow reports whether another event fits in the live window. It only
// reads; call Record after the event actually happens.
func (l *Limiter) Allow(ctx context.Context, parts ...string) (bool, error) {
	count, err := l.store.Count(ctx, l.key(parts))
	if err != nil {
		return false, err
	}
	return count < l.config.Max, nil
}

// Record counts one event against the window.
func (l *Limiter) Record(ctx context.Context, parts ...string) error {
	_, err := l.store.Incr(ctx, l.key(parts), l.config.Window)
	return err
}

// Reset clears the window counter, mainly for tests.
func (l *Limiter) Reset(ctx context.Context, parts ...string) error {
	return l.store.Reset(ctx, l.key(parts))
}

func (l *Limiter) key(parts []string) string {
	return l.prefix + ":" + strings.Join(parts, ":")
}

// Channel presets. Toast pushes are capped per user per minute; emails
// per user per category per hour; explainer calls per user per hour.

// NewToastLimiter caps live toast pushes at 5 per user per minute.
func NewToastLimiter(store Store) *Limiter {
	return New(store, "ratelimit:toast", Config{Max: 5, Window: time.Minute})
}

// NewEmailLimiter caps alert emails at 3 per user per category per hour.
func NewEmailLimiter(store Store) *Limiter {
	return New(store, "ratelimit:email", Config{Max: 3, Window: time.Hour})
}

// NewExplainerLimiter caps AI explainer calls at 20 per user per hour.
func NewExplainerLimiter(store Store) *Limiter {
	return New(store, "ratelimit:explainer", Config{Max: 20, Window: time.Hour})
}
