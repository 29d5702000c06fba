// Package report records the outcome of a pipeline run: when it ran, which
// buckets it touched, and the per-stage success and failure counts with the
// identifiers of every failed item.
package report

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
)

// Run status values.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// RunReport is the persisted summary of one run.
type RunReport struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	SourceBucket string
	DestBucket   string
	Stages       []executor.Summary
	Warnings     int
	TermsWritten int
	// Error is the batch-level failure that aborted the run, if any.
	Error string
}

// Failed returns the number of failed items across all stages.
func (r RunReport) Failed() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Failed
	}
	return n
}

// Status is failed when the run aborted, partial when any item failed and
// succeeded otherwise.
func (r RunReport) Status() string {
	switch {
	case r.Error != "":
		return StatusFailed
	case r.Failed() > 0:
		return StatusPartial
	default:
		return StatusSucceeded
	}
}

// Stage returns the summary recorded for the named stage.
func (r RunReport) Stage(name string) (executor.Summary, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return executor.Summary{}, false
}
