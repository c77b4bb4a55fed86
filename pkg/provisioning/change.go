package provisioning

import (
	"context"
	"time"
)

// ChangeOp names a committed registry write.
type ChangeOp string

const (
	OpProvisioned   ChangeOp = "provisioned"
	OpDeprovisioned ChangeOp = "deprovisioned"
)

// Change describes a write after it has been committed to the backing store.
type Change struct {
	Op                    ChangeOp  `json:"op"`
	AccessIdentifier      string    `json:"accessIdentifier"`
	ExternalApplicationID string    `json:"externalApplicationId,omitempty"`
	At                    time.Time `json:"at"`
}

// Notifier receives committed changes. It is called with the key lock held,
// so changes to one access identifier arrive in commit order. Implementations
// must not block for long and must not call back into the registry.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}
