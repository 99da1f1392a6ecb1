package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a notification does not exist.
	ErrNotFound = errors.New("notification: not found")
	// ErrDuplicate is returned by Create when a record with the same
	// (user, source, source id, type) already exists. Callers treat it
	// as a no-op skip, not a failure.
	ErrDuplicate = errors.New("notification: duplicate")
)

// Storage handles notification persistence and retrieval.
type Storage interface {
	// Create stores a new notification and assigns its ID.
	// Returns ErrDuplicate when the uniqueness constraint is hit.
	Create(ctx context.Context, notif *Notification) error

	// Exists reports whether a record with the given dedup key is present.
	Exists(ctx context.Context, userID, source, sourceID string, typ Type) (bool, error)

	// Get retrieves a single notification owned by userID.
	Get(ctx context.Context, userID string, id int64) (*Notification, error)

	// List returns notifications for a user, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)

	// MarkRead marks notification(s) as read.
	MarkRead(ctx context.Context, userID string, ids ...int64) error

	// MarkAllRead marks every notification of a user as read.
	MarkAllRead(ctx context.Context, userID string) error

	// Delete removes notification(s).
	Delete(ctx context.Context, userID string, ids ...int64) error

	// CountUnread returns the unread count for a user.
	CountUnread(ctx context.Context, userID string) (int, error)
}

// ListOptions provides filtering and pagination for List.
type ListOptions struct {
	Limit      int        // Maximum number of rows to return (0 = no limit)
	Offset     int        // Rows to skip for pagination
	OnlyUnread bool       // When true, only return unread notifications
	Types      []Type     // If set, only return these types
	Since      *time.Time // If set, only return rows created after this time
}
