// Package realtime delivers low-latency "nudge" events to live browser
// sessions. Delivery is at-most-once per connection with no replay
// buffer: a client connecting after a publish simply misses it and
// falls back to the persisted notification list.
//
// Events for one user arrive in publish order. No ordering holds across
// users, and each browser tab is an independent subscription.
package realtime

import (
	"context"
	"time"
)

// EventType tags a stream event.
type EventType string

const (
	// TypeConnected is the first frame sent on a new stream connection.
	TypeConnected EventType = "connected"
	TypeNew       EventType = "new"
	TypeRead      EventType = "read"
	TypeDelete    EventType = "delete"
)

// Event is the lightweight frame pushed to subscribed clients.
type Event struct {
	UserID         string    `json:"user_id"`
	NotificationID int64     `json:"notification_id,omitempty"`
	Type           EventType `json:"type"`
	Source         string    `json:"source,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Subscription is one live listener for a user's events. Close is
// idempotent and must be called when the consumer goes away so the
// fanout can release resources immediately.
type Subscription interface {
	// Events returns the channel events arrive on. The channel is closed
	// when the subscription is closed.
	Events() <-chan Event

	// Close tears the subscription down and releases resources.
	Close() error
}

// Fanout publishes events to per-user channels and opens subscriptions
// on them. Implementations must be safe for concurrent use and must not
// block publishers on slow consumers.
type Fanout interface {
	Publish(ctx context.Context, userID string, event Event) error
	Subscribe(ctx context.Context, userID string) (Subscription, error)
	Close() error
}
