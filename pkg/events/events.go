// Package events carries registry changes between replicas over NATS.
//
// Every replica publishes its committed writes on one subject and watches
// the same subject. A watcher ignores changes it published itself. For a
// peer's change it asks the local registry to re-read that key from the
// shared store.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

const (
	// DefaultSubject is the change-feed subject.
	DefaultSubject = "qod.provisioning.changes"
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout = 10 * time.Second
	// ReconnectWait is the pause between reconnect attempts.
	ReconnectWait = 2 * time.Second
	// MaxReconnects of -1 keeps reconnecting forever.
	MaxReconnects = -1
)

// Header keys set on every change message.
const (
	HeaderEventID = "x-event-id"
	HeaderOrigin  = "x-origin"
	HeaderOp      = "x-op"
)

// Change is the wire envelope of a committed registry write.
type Change struct {
	ID                    string                `json:"id"`
	Op                    provisioning.ChangeOp `json:"op"`
	AccessIdentifier      string                `json:"accessIdentifier"`
	ExternalApplicationID string                `json:"externalApplicationId,omitempty"`
	Origin                string                `json:"origin"`
	At                    time.Time             `json:"at"`
}

// NewChange wraps a registry change for the wire.
func NewChange(c provisioning.Change, origin string) Change {
	return Change{
		ID:                    uuid.NewString(),
		Op:                    c.Op,
		AccessIdentifier:      c.AccessIdentifier,
		ExternalApplicationID: c.ExternalApplicationID,
		Origin:                origin,
		At:                    c.At,
	}
}

// Encode returns the JSON payload.
func (c Change) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change: %w", err)
	}
	return b, nil
}

// DecodeChange parses a JSON payload.
func DecodeChange(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, fmt.Errorf("failed to unmarshal change: %w", err)
	}
	switch c.Op {
	case provisioning.OpProvisioned, provisioning.OpDeprovisioned:
	default:
		return Change{}, fmt.Errorf("unknown change op %q", c.Op)
	}
	if c.AccessIdentifier == "" {
		return Change{}, fmt.Errorf("change %s has no access identifier", c.ID)
	}
	return c, nil
}

// NewOrigin returns a fresh replica identity.
func NewOrigin() string { return uuid.NewString() }

// Connect dials NATS with reconnect handling that logs through logger.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	conn, err := nats.Connect(url,
		nats.Name("qod-provisioning"),
		nats.Timeout(ConnectTimeout),
		nats.ReconnectWait(ReconnectWait),
		nats.MaxReconnects(MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", "url", url)
	return conn, nil
}
