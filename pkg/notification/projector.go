package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finflow/alertpipe/pkg/eventbus"
	"github.com/finflow/alertpipe/pkg/logger"
	"github.com/finflow/alertpipe/pkg/realtime"
)

// Template maps one domain event to a candidate notification. Returning
// false skips the event without logging; producers register templates
// only for events that should surface to users.
type Template func(event eventbus.Event) (Notification, bool)

// Projector listens on the event bus and projects domain events into
// persisted notifications. Malformed candidates are discarded and
// logged, duplicates are skipped silently, and the realtime publish
// after a successful insert is best-effort.
type Projector struct {
	storage   Storage
	fanout    realtime.Fanout
	templates map[string]Template
	log       *slog.Logger
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithProjectorLogger sets the logger for the Projector.
func WithProjectorLogger(log *slog.Logger) ProjectorOption {
	return func(p *Projector) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProjector creates a projector with the default event templates.
// The fanout may be nil when no realtime channel is configured.
func NewProjector(storage Storage, fanout realtime.Fanout, opts ...ProjectorOption) *Projector {
	p := &Projector{
		storage:   storage,
		fanout:    fanout,
		templates: defaultTemplates(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds or replaces the template for an event type.
func (p *Projector) Register(eventType string, tmpl Template) {
	if tmpl != nil {
		p.templates[eventType] = tmpl
	}
}

// Attach subscribes the projector to every event type it has a template
// for. Business modules keep emitting events; they never write to the
// notification store directly.
func (p *Projector) Attach(bus *eventbus.Bus) {
	for eventType := range p.templates {
		bus.On(eventType, p.handle)
	}
}

func (p *Projector) handle(ctx context.Context, event eventbus.Event) error {
	tmpl, ok := p.templates[event.Type]
	if !ok {
		return nil
	}

	notif, ok := tmpl(event)
	if !ok {
		return nil
	}

	if err := notif.Validate(); err != nil {
		// Producer bug, not user input: discard, never persist a blank row.
		p.log.LogAttrs(ctx, slog.LevelWarn, "discarding malformed notification",
			logger.EventType(event.Type),
			logger.UserID(notif.UserID),
			logger.Error(err),
		)
		return nil
	}

	// Replaying the same event must never create duplicates. The read
	// check catches most replays cheaply; the unique index behind Create
	// closes the race between concurrent projections.
	exists, err := p.storage.Exists(ctx, notif.UserID, notif.Source, notif.SourceID, notif.Type)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return nil
	}

	if err := p.storage.Create(ctx, &notif); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("persist notification: %w", err)
	}

	if p.fanout != nil {
		ev := realtime.Event{
			UserID:         notif.UserID,
			NotificationID: notif.ID,
			Type:           realtime.TypeNew,
			Source:         notif.Source,
			Timestamp:      time.Now(),
		}
		if err := p.fanout.Publish(ctx, notif.UserID, ev); err != nil {
			// The row is persisted; a missed nudge is acceptable.
			p.log.LogAttrs(ctx, slog.LevelWarn, "failed to publish realtime event for stored notification",
				logger.NotificationID(notif.ID),
				logger.UserID(notif.UserID),
				logger.Error(err),
			)
		}
	}

	return nil
}

// defaultTemplates covers the standard business events. SourceID comes
// from the event payload so replays map to the same dedup key.
func defaultTemplates() map[string]Template {
	return map[string]Template{
		"invoice.paid": func(e eventbus.Event) (Notification, bool) {
			return Notification{
				UserID:   e.Payload.UserID,
				Type:     TypeSuccess,
				Title:    "Invoice paid",
				Message:  fmt.Sprintf("Invoice %s has been paid.", e.Payload.SourceID),
				Source:   "invoice",
				SourceID: e.Payload.SourceID,
			}, true
		},
		"invoice.overdue": func(e eventbus.Event) (Notification, bool) {
			return Notification{
				UserID:   e.Payload.UserID,
				Type:     TypeWarning,
				Title:    "Invoice overdue",
				Message:  fmt.Sprintf("Invoice %s is overdue.", e.Payload.SourceID),
				Source:   "invoice",
				SourceID: e.Payload.SourceID,
			}, true
		},
		"payment_goal.reached": func(e eventbus.Event) (Notification, bool) {
			return Notification{
				UserID:   e.Payload.UserID,
				Type:     TypeSuccess,
				Title:    "Payment goal reached",
				Message:  "Congratulations, you reached your payment goal.",
				Source:   "payment_goal",
				SourceID: e.Payload.SourceID,
			}, true
		},
		"price_alert.triggered": func(e eventbus.Event) (Notification, bool) {
			msg, _ := e.Payload.Data["message"].(string)
			if msg == "" {
				msg = "A price alert you set has been triggered."
			}
			return Notification{
				UserID:   e.Payload.UserID,
				Type:     TypeInfo,
				Title:    "Price alert",
				Message:  msg,
				Source:   "price_alert",
				SourceID: e.Payload.SourceID,
			}, true
		},
	}
}
