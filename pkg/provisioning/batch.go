package provisioning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// BatchFailure describes one record a batch could not provision.
type BatchFailure struct {
	Index            int       `json:"index"`
	AccessIdentifier string    `json:"accessIdentifier"`
	Kind             ErrorKind `json:"kind"`
	Err              error     `json:"-"`
	Message          string    `json:"message"`
}

// BatchReport summarizes a ProvisionBatch run.
type BatchReport struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// OK reports whether every record was provisioned.
func (b *BatchReport) OK() bool { return len(b.Failures) == 0 }

// FailuresByKind counts failures per error kind.
func (b *BatchReport) FailuresByKind() map[ErrorKind]int {
	out := make(map[ErrorKind]int)
	for _, f := range b.Failures {
		out[f.Kind]++
	}
	return out
}

type batchOptions struct {
	limiter *rate.Limiter
}

type BatchOption func(*batchOptions)

// WithPace throttles batch writes through l.
func WithPace(l *rate.Limiter) BatchOption {
	return func(o *batchOptions) { o.limiter = l }
}

// ProvisionBatch provisions records in order. A failed record is recorded in
// the report and the batch moves on; only context cancellation stops it, in
// which case every remaining record is reported as canceled.
func (r *Registry) ProvisionBatch(ctx context.Context, records []Record, opts ...BatchOption) *BatchReport {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}

	report := &BatchReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Total:     len(records),
	}
	log := r.logger.With("batch_id", report.ID)

	for i, rec := range records {
		err := ctx.Err()
		if err == nil && o.limiter != nil {
			err = o.limiter.Wait(ctx)
		}
		if err == nil {
			err = r.Provision(ctx, rec)
		}
		if err != nil {
			kind := Kind(err)
			if ctx.Err() != nil {
				kind = KindCanceled
			}
			report.Failures = append(report.Failures, BatchFailure{
				Index:            i,
				AccessIdentifier: rec.AccessIdentifier,
				Kind:             kind,
				Err:              err,
				Message:          err.Error(),
			})
			log.WarnContext(ctx, "batch record failed",
				"index", i, "access_identifier", rec.AccessIdentifier, "kind", kind, "error", err)
			continue
		}
		report.Succeeded++
	}

	report.Duration = time.Since(report.StartedAt)
	log.InfoContext(ctx, "batch complete",
		"total", report.Total, "succeeded", report.Succeeded, "failed", len(report.Failures),
		"duration", report.Duration)
	return report
}
