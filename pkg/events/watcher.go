package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Refresher re-reads one key from the shared store.
type Refresher interface {
	Refresh(ctx context.Context, accessIdentifier string) error
}

// DefaultRefreshTimeout bounds each Refresh a watcher triggers.
const DefaultRefreshTimeout = 5 * time.Second

// Watcher applies peer changes to the local registry.
type Watcher struct {
	conn    *nats.Conn
	subject string
	origin  string
	reg     Refresher
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewWatcher watches subject (DefaultSubject when empty) and skips changes
// stamped with origin.
func NewWatcher(conn *nats.Conn, subject, origin string, reg Refresher, logger *slog.Logger) *Watcher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	return &Watcher{
		conn:    conn,
		subject: subject,
		origin:  origin,
		reg:     reg,
		timeout: DefaultRefreshTimeout,
		logger:  logger,
	}
}

// Start subscribes. Messages are handled one at a time on the
// subscription's goroutine, so changes to a key apply in publish order.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return nil
	}
	sub, err := w.conn.Subscribe(w.subject, w.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.subject, err)
	}
	w.sub = sub
	w.logger.Info("watching change feed", "subject", w.subject, "origin", w.origin)
	return nil
}

// Close drains the subscription.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return nil
	}
	err := w.sub.Drain()
	w.sub = nil
	return err
}

func (w *Watcher) handle(msg *nats.Msg) {
	// The header lets us skip our own changes without decoding.
	if msg.Header != nil && msg.Header.Get(HeaderOrigin) == w.origin {
		return
	}
	c, err := DecodeChange(msg.Data)
	if err != nil {
		w.logger.Warn("dropping malformed change", "subject", msg.Subject, "error", err)
		return
	}
	if c.Origin == w.origin {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.reg.Refresh(ctx, c.AccessIdentifier); err != nil {
		w.logger.Error("failed to apply peer change",
			"event_id", c.ID, "origin", c.Origin, "access_identifier", c.AccessIdentifier, "error", err)
		return
	}
	w.logger.Debug("applied peer change",
		"event_id", c.ID, "op", c.Op, "origin", c.Origin, "access_identifier", c.AccessIdentifier)
}
