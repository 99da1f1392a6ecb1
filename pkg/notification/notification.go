// Package notification holds the persisted user-facing notification
// record and the projector that derives records from domain events.
//
// The store is the pipeline's one durable truth: a user may miss a toast
// or an email, but never the listed notification for an alert that was
// marked triggered.
package notification

import (
	"errors"
	"time"
)

// Type represents the notification severity shown to the user.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

var (
	ErrEmptyUserID  = errors.New("notification: empty user id")
	ErrEmptyTitle   = errors.New("notification: empty title")
	ErrEmptyMessage = errors.New("notification: empty message")
)

// Notification is the persisted record. ID is assigned by the store.
// Uniqueness holds on (UserID, Source, SourceID, Type): replaying the
// event that produced a record must never create a second row.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	SourceID  string    `json:"source_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate rejects records that would render as blank entries. An empty
// title or message is a producer bug, not user input, so callers discard
// and log rather than surface the failure.
func (n Notification) Validate() error {
	if n.UserID == "" {
		return ErrEmptyUserID
	}
	if n.Title == "" {
		return ErrEmptyTitle
	}
	if n.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}
