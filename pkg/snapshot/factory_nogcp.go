//go:build !gcp

package snapshot

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return nil, fmt.Errorf("GCS snapshot storage is not enabled in this build (use -tags gcp)")
}
