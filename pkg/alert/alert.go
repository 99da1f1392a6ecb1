// Package alert defines the delivery job that travels through the queue
// from condition producers to worker processes.
package alert

import (
	"errors"
	"fmt"
	"time"
)

// Priority represents the alert priority level.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityWarning  Priority = "warning"
	PriorityInfo     Priority = "info"
)

// Channel is a delivery medium for an alert.
type Channel string

const (
	ChannelToast Channel = "toast"
	ChannelEmail Channel = "email"
)

// Category groups alerts by the business condition that produced them.
type Category string

const (
	CategoryInvoice     Category = "invoice"
	CategoryPaymentGoal Category = "payment_goal"
	CategoryPriceAlert  Category = "price_alert"
	CategorySystem      Category = "system"
)

var (
	ErrEmptyAlertID = errors.New("alert: empty alert id")
	ErrEmptyUserID  = errors.New("alert: empty user id")
	ErrEmptyTitle   = errors.New("alert: empty title")
	ErrEmptyMessage = errors.New("alert: empty message")
)

// Job describes one pending alert delivery. Jobs are serialized to JSON
// for queue transport and must stay self-contained: the worker processes
// them without access to producer state.
type Job struct {
	AlertID    string            `json:"alert_id"`
	UserID     string            `json:"user_id"`
	Category   Category          `json:"category"`
	Priority   Priority          `json:"priority"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	ActionURL  string            `json:"action_url,omitempty"`
	Channels   []Channel         `json:"channels"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Validate checks that the job carries everything a worker needs.
func (j Job) Validate() error {
	if j.AlertID == "" {
		return ErrEmptyAlertID
	}
	if j.UserID == "" {
		return ErrEmptyUserID
	}
	if j.Title == "" {
		return ErrEmptyTitle
	}
	if j.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// HasChannel reports whether the job targets the given delivery channel.
func (j Job) HasChannel(ch Channel) bool {
	for _, c := range j.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// NewAlertID builds the deterministic business key for an alert condition.
// Recomputing the same condition must yield the same id, otherwise the
// triggered-marker dedup cannot suppress redelivery. The condition version
// lets a producer intentionally re-alert after materially changing a
// condition's definition.
func NewAlertID(category Category, entityID string, conditionVersion int) string {
	return fmt.Sprintf("%s:%s:v%d", category, entityID, conditionVersion)
}
