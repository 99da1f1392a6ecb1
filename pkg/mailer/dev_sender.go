package mailer

import (
	"context"
	"log/slog"
)

// DevSender logs messages instead of sending them. Use it in development
// and tests where real email delivery is disabled.
type DevSender struct {
	log *slog.Logger
}

// NewDevSender creates a sender that only logs.
func NewDevSender(log *slog.Logger) *DevSender {
	if log == nil {
		log = slog.Default()
	}
	return &DevSender{log: log}
}

func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	d.log.InfoContext(ctx, "dev mailer: would send email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.Int("body_bytes", len(msg.BodyHTML)),
	)
	return nil
}
