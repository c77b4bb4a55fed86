package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

// msgPublisher is the part of *nats.Conn the publisher uses.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher publishes registry changes. It implements provisioning.Notifier.
type Publisher struct {
	conn    msgPublisher
	subject string
	origin  string
	logger  *slog.Logger
}

var _ provisioning.Notifier = (*Publisher)(nil)

// NewPublisher publishes on subject (DefaultSubject when empty), stamping
// every change with origin.
func NewPublisher(conn *nats.Conn, subject, origin string, logger *slog.Logger) *Publisher {
	return newPublisher(conn, subject, origin, logger)
}

func newPublisher(conn msgPublisher, subject, origin string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	return &Publisher{conn: conn, subject: subject, origin: origin, logger: logger}
}

// Notify publishes c. NATS core publish is buffered, so this does not wait
// for the server.
func (p *Publisher) Notify(ctx context.Context, c provisioning.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.conn == nil {
		return errors.New("NATS publisher not connected")
	}

	ev := NewChange(c, p.origin)
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(HeaderEventID, ev.ID)
	msg.Header.Set(HeaderOrigin, ev.Origin)
	msg.Header.Set(HeaderOp, string(ev.Op))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	p.logger.DebugContext(ctx, "change published",
		"event_id", ev.ID, "op", ev.Op, "access_identifier", ev.AccessIdentifier, "subject", p.subject)
	return nil
}
