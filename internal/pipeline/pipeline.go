// Package pipeline wires the stages of a run together: download raw shards
// from the source bucket, parse and score them into postings, write one file
// per term and upload those files to the destination bucket. Every stage
// fans out through the bounded executor, keeps going past per-item failures
// and reports a Summary; only batch-level failures stop the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/tracing"
)

// Phases a run can be limited to. PhaseTransform covers loading, parsing,
// scoring and writing.
const (
	PhaseDownload  = "download"
	PhaseTransform = "transform"
	PhaseUpload    = "upload"
)

// AllPhases is the order of a full run.
var AllPhases = []string{PhaseDownload, PhaseTransform, PhaseUpload}

// Stage names as they appear in summaries, metrics and reports.
const (
	stageDownload  = "download"
	stageLoad      = "load"
	stageParse     = "parse"
	stageTransform = "transform"
	stageWrite     = "write"
	stageUpload    = "upload"
)

// ReportSaver persists finished runs. *report.Store implements it.
type ReportSaver interface {
	Save(ctx context.Context, r report.RunReport) error
}

// RunNotifier announces finished runs. *notify.Notifier implements it.
type RunNotifier interface {
	RunCompleted(ctx context.Context, r report.RunReport) error
}

// Deps are the collaborators of a Pipeline. Store is required; the rest are
// optional and skipped when nil.
type Deps struct {
	Store    objectstore.Store
	Ledger   *ledger.Ledger
	Reports  ReportSaver
	Notifier RunNotifier
	Metrics  *metrics.Metrics
}

type Pipeline struct {
	cfg      config.PipelineConfig
	store    objectstore.Store
	ledger   *ledger.Ledger
	reports  ReportSaver
	notifier RunNotifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	newRunID func() string
}

func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		ledger:   deps.Ledger,
		reports:  deps.Reports,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   slog.Default().With("component", "pipeline"),
		newRunID: uuid.NewString,
	}
}

// Run executes the given phases in order (all of them when none are given)
// and returns the run's report. The returned error is the batch-level
// failure that stopped the run; per-item failures only show up in the
// report's stage summaries.
func (p *Pipeline) Run(ctx context.Context, phases ...string) (*report.RunReport, error) {
	if len(phases) == 0 {
		phases = AllPhases
	}
	runID := p.newRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "pipeline")
	ctx, root := tracing.StartSpan(ctx, "run", runID)

	rep := &report.RunReport{
		RunID:        runID,
		StartedAt:    time.Now().UTC(),
		SourceBucket: p.cfg.SourceBucket,
		DestBucket:   p.cfg.DestBucket,
	}
	log.Info("run started",
		"phases", phases,
		"source_bucket", p.cfg.SourceBucket,
		"dest_bucket", p.cfg.DestBucket,
		"max_concurrency", p.cfg.MaxConcurrency,
	)

	var runErr error
	for _, phase := range phases {
		if err := p.runPhase(ctx, phase, rep); err != nil {
			runErr = fmt.Errorf("%s phase: %w", phase, err)
			rep.Error = runErr.Error()
			break
		}
	}
	rep.FinishedAt = time.Now().UTC()

	root.SetAttr("status", rep.Status())
	root.SetAttr("failed_items", rep.Failed())
	root.End()
	root.Log(log)

	p.finish(context.WithoutCancel(ctx), *rep)
	if runErr != nil {
		log.Error("run aborted", "error", runErr, "duration", rep.FinishedAt.Sub(rep.StartedAt))
	} else {
		log.Info("run finished",
			"status", rep.Status(),
			"failed_items", rep.Failed(),
			"warnings", rep.Warnings,
			"terms_written", rep.TermsWritten,
			"duration", rep.FinishedAt.Sub(rep.StartedAt),
		)
	}
	return rep, runErr
}

func (p *Pipeline) runPhase(ctx context.Context, phase string, rep *report.RunReport) error {
	switch phase {
	case PhaseDownload:
		return p.stage(ctx, rep, stageDownload, p.download)
	case PhaseTransform:
		return p.transform(ctx, rep)
	case PhaseUpload:
		return p.stage(ctx, rep, stageUpload, p.upload)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// stage runs fn under a child span, records its duration and appends its
// summary to rep, even when fn fails part way.
func (p *Pipeline) stage(ctx context.Context, rep *report.RunReport, name string, fn func(ctx context.Context) (executor.Summary, error)) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	defer span.End()
	start := time.Now()

	sum, err := fn(ctx)
	p.metrics.Stage(name).ObserveDuration(start)
	sum.Stage = name
	rep.Stages = append(rep.Stages, sum)

	span.SetAttr("total", sum.Total)
	span.SetAttr("failed", sum.Failed)
	log := logger.FromContext(ctx).With("component", "pipeline", "stage", name)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Error("stage aborted", "error", err)
		return err
	}
	log.Info("stage completed",
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"failed_items", sum.FailedItems,
		"duration", time.Since(start),
	)
	return nil
}

// finish saves and announces the report. Both are best effort.
func (p *Pipeline) finish(ctx context.Context, rep report.RunReport) {
	if p.reports != nil {
		if err := p.reports.Save(ctx, rep); err != nil {
			p.logger.Error("saving run report failed", "run_id", rep.RunID, "error", err)
		}
	}
	if p.notifier != nil {
		// The notifier logs its own failures.
		_ = p.notifier.RunCompleted(ctx, rep)
	}
}

// progress logs roughly every tenth completion of a stage.
func progress[T, R any](ctx context.Context, stage string) executor.Option[T, R] {
	log := logger.FromContext(ctx).With("component", "pipeline", "stage", stage)
	return executor.WithProgress[T, R](func(done, total int, r executor.Result[T, R]) {
		step := total / 10
		if step < 1 {
			step = 1
		}
		if done%step == 0 || done == total {
			log.Info("progress", "done", done, "total", total)
		}
	})
}
