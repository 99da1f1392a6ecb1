// Package dedup provides the shared-state primitives that make alert
// delivery at-most-once per condition: triggered markers and processing
// locks, both ephemeral keys with TTLs in the shared store.
//
// A triggered marker's presence means "already delivered, skip" for the
// dedup window. A processing lock grants one worker exclusive handling
// of an alert id; its TTL self-heals after a crashed holder.
package dedup

import (
	"context"
	"time"
)

const (
	// DefaultTriggerTTL is the dedup window: redelivery of the same
	// condition is suppressed for this long after markTriggered.
	DefaultTriggerTTL = 24 * time.Hour

	// DefaultLockTTL bounds exposure when a worker dies mid-processing.
	DefaultLockTTL = 5 * time.Minute
)

// Gate combines the triggered-marker and processing-lock primitives.
// Implementations must back TryLock and MarkTriggered with an atomic
// set-if-absent; separate read-then-write round trips would break the
// mutual-exclusion invariant under concurrent workers.
type Gate interface {
	// IsTriggered reports whether the alert was already delivered
	// within the dedup window.
	IsTriggered(ctx context.Context, alertID string) (bool, error)

	// MarkTriggered records delivery; redelivery is suppressed for ttl.
	MarkTriggered(ctx context.Context, alertID string, ttl time.Duration) error

	// TryLock attempts to acquire exclusive processing of the alert.
	// Exactly one concurrent caller succeeds; the rest get false.
	TryLock(ctx context.Context, alertID string, ttl time.Duration) (bool, error)

	// Unlock releases the processing lock.
	Unlock(ctx context.Context, alertID string) error
}
