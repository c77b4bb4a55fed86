package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/seed"
)

// result is what one run prints. Failure indexes refer to positions in the
// seed file, not in the list of well-shaped records.
type result struct {
	Seed        string                      `json:"seed"`
	DryRun      bool                        `json:"dryRun,omitempty"`
	BatchID     string                      `json:"batchId,omitempty"`
	Total       int                         `json:"total"`
	Succeeded   int                         `json:"succeeded"`
	Rejected    []seed.Rejection            `json:"rejected,omitempty"`
	Failures    []provisioning.BatchFailure `json:"failures,omitempty"`
	Restored    int                         `json:"restored,omitempty"`
	Provisioned int                         `json:"provisioned,omitempty"`
	Snapshot    string                      `json:"snapshot,omitempty"`
	Duration    string                      `json:"duration,omitempty"`
}

func newResult(path string, dryRun bool, f *seed.File) *result {
	return &result{
		Seed:     path,
		DryRun:   dryRun,
		Total:    f.Total(),
		Rejected: f.Rejected,
	}
}

// OK reports whether every record in the seed file was accepted.
func (r *result) OK() bool {
	return len(r.Rejected) == 0 && len(r.Failures) == 0
}

func (r *result) validate(f *seed.File) {
	for i, rec := range f.Records {
		if _, err := provisioning.Validate(rec); err != nil {
			r.Failures = append(r.Failures, provisioning.BatchFailure{
				Index:            f.Indexes[i],
				AccessIdentifier: rec.AccessIdentifier,
				Kind:             provisioning.Kind(err),
				Err:              err,
				Message:          err.Error(),
			})
			continue
		}
		r.Succeeded++
	}
}

func (r *result) apply(report *provisioning.BatchReport, f *seed.File) {
	r.BatchID = report.ID
	r.Succeeded = report.Succeeded
	r.Duration = report.Duration.String()
	for _, fail := range report.Failures {
		fail.Index = f.Indexes[fail.Index]
		r.Failures = append(r.Failures, fail)
	}
}

func (r *result) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *result) writeText(w io.Writer) error {
	verb := "provisioned"
	if r.DryRun {
		verb = "validated"
	}

	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("seed: %s\n", r.Seed)
	if r.BatchID != "" {
		printf("batch: %s (%s)\n", r.BatchID, r.Duration)
	}
	if r.Restored > 0 {
		printf("restored from snapshot: %d\n", r.Restored)
	}
	printf("%s %d/%d records\n", verb, r.Succeeded, r.Total)

	type line struct {
		index int
		text  string
	}
	var lines []line
	for _, rej := range r.Rejected {
		lines = append(lines, line{rej.Index, fmt.Sprintf("%s: %s", rej.Kind, rej.Error)})
	}
	for _, f := range r.Failures {
		lines = append(lines, line{f.Index, fmt.Sprintf("%s %s: %s", f.AccessIdentifier, f.Kind, f.Message)})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].index < lines[j].index })
	for _, l := range lines {
		printf("  [%d] %s\n", l.index, l.text)
	}

	if r.Provisioned > 0 {
		printf("registry size: %d\n", r.Provisioned)
	}
	if r.Snapshot != "" {
		printf("snapshot: %s\n", r.Snapshot)
	}
	return err
}
