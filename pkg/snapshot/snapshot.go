// Package snapshot exports and restores the provisioning registry as a
// canonical JSON document held in a content-addressed blob store.
//
// A snapshot is encoded with RFC 8785 canonicalization, so two registries
// holding the same records at the same instant produce byte-identical blobs
// and therefore the same hash. The store's HEAD names the latest export.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

const (
	// FormatVersion is written into every export.
	FormatVersion = "1.0.0"
	// SupportedFormats is the constraint Restore accepts.
	SupportedFormats = "^1.0.0"
)

// ErrUnsupportedFormat is returned by Restore for a snapshot written by an
// incompatible format version.
var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

// Snapshot is the exported document.
type Snapshot struct {
	FormatVersion string                `json:"formatVersion"`
	TakenAt       time.Time             `json:"takenAt"`
	Records       []provisioning.Record `json:"records"`
}

// Lister is the read side of a registry.
type Lister interface {
	List(ctx context.Context) ([]provisioning.Record, error)
}

// Take captures every record src holds.
func Take(ctx context.Context, src Lister, at time.Time) (*Snapshot, error) {
	recs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if recs == nil {
		recs = []provisioning.Record{}
	}
	return &Snapshot{
		FormatVersion: FormatVersion,
		TakenAt:       at.UTC(),
		Records:       recs,
	}, nil
}

// Encode returns the canonical JSON form.
func (s *Snapshot) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize snapshot: %w", err)
	}
	return canon, nil
}

// Decode parses a snapshot and checks its format version.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if err := checkFormat(s.FormatVersion); err != nil {
		return nil, err
	}
	return &s, nil
}

func checkFormat(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: bad version %q: %w", ErrUnsupportedFormat, v, err)
	}
	c, err := semver.NewConstraint(SupportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(ver) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedFormat, v, SupportedFormats)
	}
	return nil
}

// Export snapshots src into blobs and moves HEAD to it. It returns the
// blob hash.
func Export(ctx context.Context, src Lister, blobs Store) (string, error) {
	snap, err := Take(ctx, src, time.Now())
	if err != nil {
		return "", err
	}
	data, err := snap.Encode()
	if err != nil {
		return "", err
	}
	hash, err := blobs.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	if err := blobs.SetHead(ctx, hash); err != nil {
		return "", fmt.Errorf("failed to update snapshot head: %w", err)
	}

	slog.Default().With("component", "snapshot").InfoContext(ctx, "snapshot exported",
		"hash", hash, "records", len(snap.Records), "bytes", len(data))
	return hash, nil
}

// Restore replays the HEAD snapshot into reg. Records that fail validation
// are reported in the batch report and do not stop the restore. With no
// snapshot exported yet it returns ErrNoSnapshot.
func Restore(ctx context.Context, reg *provisioning.Registry, blobs Store) (*provisioning.BatchReport, error) {
	hash, err := blobs.Head(ctx)
	if err != nil {
		return nil, err
	}
	data, err := blobs.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", hash, err)
	}
	if got := hashOf(data); got != hash {
		return nil, fmt.Errorf("snapshot %s is corrupt: content hashes to %s", hash, got)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}

	report := reg.ProvisionBatch(ctx, snap.Records)
	slog.Default().With("component", "snapshot").InfoContext(ctx, "snapshot restored",
		"hash", hash, "taken_at", snap.TakenAt, "succeeded", report.Succeeded, "failed", len(report.Failures))
	return report, nil
}
