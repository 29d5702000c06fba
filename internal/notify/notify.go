// Package notify announces finished runs on Kafka so downstream consumers
// (search frontends, cache warmers) can pick up the new postings.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/kafka"
)

// RunCompleted is the JSON payload published after each run.
type RunCompleted struct {
	RunID        string        `json:"run_id"`
	Status       string        `json:"status"`
	DestBucket   string        `json:"dest_bucket"`
	TermsWritten int           `json:"terms_written"`
	Warnings     int           `json:"warnings"`
	Stages       []StageCounts `json:"stages"`
	FinishedAt   time.Time     `json:"finished_at"`
}

type StageCounts struct {
	Stage     string `json:"stage"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

var _ Publisher = (*kafka.Producer)(nil)

type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

func New(pub Publisher) *Notifier {
	return &Notifier{
		pub:    pub,
		logger: slog.Default().With("component", "notifier"),
	}
}

// NewEvent builds the payload for r.
func NewEvent(r report.RunReport) RunCompleted {
	ev := RunCompleted{
		RunID:        r.RunID,
		Status:       r.Status(),
		DestBucket:   r.DestBucket,
		TermsWritten: r.TermsWritten,
		Warnings:     r.Warnings,
		Stages:       make([]StageCounts, 0, len(r.Stages)),
		FinishedAt:   r.FinishedAt,
	}
	for _, s := range r.Stages {
		ev.Stages = append(ev.Stages, stageCounts(s))
	}
	return ev
}

func stageCounts(s executor.Summary) StageCounts {
	return StageCounts{Stage: s.Stage, Total: s.Total, Succeeded: s.Succeeded, Failed: s.Failed}
}

// RunCompleted publishes the event keyed by run ID. A publish failure is
// logged and returned; callers treat it as non-fatal.
func (n *Notifier) RunCompleted(ctx context.Context, r report.RunReport) error {
	if n == nil {
		return nil
	}
	if err := n.pub.Publish(ctx, kafka.Event{Key: r.RunID, Value: NewEvent(r)}); err != nil {
		n.logger.Error("run-complete notification failed", "run_id", r.RunID, "error", err)
		return err
	}
	n.logger.Info("run-complete notification sent", "run_id", r.RunID)
	return nil
}
