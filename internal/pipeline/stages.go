package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/record"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/report"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/transform"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

func identity(s string) string { return s }

// download fetches the selected source keys into the input directory.
func (p *Pipeline) download(ctx context.Context) (executor.Summary, error) {
	keys, err := p.store.ListKeys(ctx, p.cfg.SourceBucket)
	if err != nil {
		return executor.Summary{}, fmt.Errorf("listing source bucket: %w", err)
	}
	selected := objectstore.SelectKeys(keys, p.cfg.KeyPrefix, p.cfg.StartIndex, p.cfg.EndIndex)
	p.logger.Info("keys selected",
		"listed", len(keys),
		"selected", len(selected),
		"prefix", p.cfg.KeyPrefix,
		"start_index", p.cfg.StartIndex,
		"end_index", p.cfg.EndIndex,
	)
	if err := os.MkdirAll(p.cfg.InputDir, 0755); err != nil {
		return executor.Summary{}, pipelineerrors.Newf(pipelineerrors.ErrIO, p.cfg.InputDir, "creating input directory: %v", err)
	}

	results := executor.RunAll(ctx, selected, p.cfg.MaxConcurrency,
		func(ctx context.Context, key string) (string, error) {
			return p.store.Fetch(ctx, p.cfg.SourceBucket, key, p.cfg.InputDir)
		},
		executor.WithObserver[string, string](p.metrics.Stage(stageDownload)),
		progress[string, string](ctx, stageDownload),
	)
	for _, r := range executor.Failures(results) {
		p.logger.Error("download failed", "key", r.Item, "error", r.Err)
	}
	return executor.Summarize(stageDownload, results, identity), nil
}

// transform loads the input directory, scores every record and writes one
// postings file per term. Each step is reported as its own stage.
func (p *Pipeline) transform(ctx context.Context, rep *report.RunReport) error {
	var loaded *record.Loaded
	err := p.stage(ctx, rep, stageLoad, func(ctx context.Context) (executor.Summary, error) {
		var err error
		loaded, err = record.LoadDir(ctx, p.cfg.InputDir, p.cfg.MaxConcurrency,
			executor.WithObserver[string, *record.FileRecords](p.metrics.Stage(stageLoad)),
		)
		if err != nil {
			return executor.Summary{}, err
		}
		return loaded.Files, nil
	})
	if err != nil {
		return err
	}

	if err := p.stage(ctx, rep, stageParse, func(context.Context) (executor.Summary, error) {
		return parseSummary(loaded), nil
	}); err != nil {
		return err
	}

	var out *transform.Output
	err = p.stage(ctx, rep, stageTransform, func(ctx context.Context) (executor.Summary, error) {
		var err error
		out, err = transform.New(p.cfg.IndexShards, p.cfg.MaxConcurrency, p.metrics).Transform(ctx, loaded.Records)
		if out == nil {
			return executor.Summary{}, err
		}
		rep.Warnings = len(out.Warnings)
		return out.Summary, err
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, rep, stageWrite, func(ctx context.Context) (executor.Summary, error) {
		w, err := postings.NewWriter(p.cfg.OutputDir)
		if err != nil {
			return executor.Summary{}, err
		}
		results := w.WriteAll(ctx, out.Entries, p.cfg.MaxConcurrency,
			executor.WithObserver[index.TermEntry, string](p.metrics.Stage(stageWrite)),
			progress[index.TermEntry, string](ctx, stageWrite),
		)
		sum := executor.Summarize(stageWrite, results, func(e index.TermEntry) string { return e.Term })
		rep.TermsWritten = sum.Succeeded
		return sum, nil
	})
}

// parseSummary reports line-level parse results; a malformed line is a
// failed item identified as path:line.
func parseSummary(loaded *record.Loaded) executor.Summary {
	sum := executor.Summary{
		Stage:     stageParse,
		Total:     len(loaded.Records) + len(loaded.LineErrors),
		Succeeded: len(loaded.Records),
		Failed:    len(loaded.LineErrors),
	}
	for _, le := range loaded.LineErrors {
		sum.FailedItems = append(sum.FailedItems, fmt.Sprintf("%s:%d", le.Path, le.Line))
	}
	sort.Strings(sum.FailedItems)
	return sum
}

type uploadItem struct {
	key  string
	path string
}

// upload provisions the destination bucket and puts every postings file.
// Files the ledger has seen with the same content, and objects the store
// already holds, are skipped.
func (p *Pipeline) upload(ctx context.Context) (executor.Summary, error) {
	if err := p.store.EnsureBucket(ctx, p.cfg.DestBucket); err != nil {
		return executor.Summary{}, fmt.Errorf("provisioning destination bucket: %w", err)
	}
	items, err := listOutput(p.cfg.OutputDir)
	if err != nil {
		return executor.Summary{}, err
	}

	results := executor.RunAll(ctx, items, p.cfg.MaxConcurrency,
		func(ctx context.Context, it uploadItem) (objectstore.PutResult, error) {
			return p.uploadOne(ctx, it)
		},
		executor.WithObserver[uploadItem, objectstore.PutResult](p.metrics.Stage(stageUpload)),
		progress[uploadItem, objectstore.PutResult](ctx, stageUpload),
	)

	skipped := 0
	for _, r := range results {
		if r.Err != nil {
			p.logger.Error("upload failed", "key", r.Item.key, "error", r.Err)
			continue
		}
		if r.Value.Skipped {
			skipped++
		}
	}
	if p.metrics != nil {
		p.metrics.UploadsSkippedTotal.Add(float64(skipped))
	}
	p.logger.Info("uploads skipped", "count", skipped)
	return executor.Summarize(stageUpload, results, func(it uploadItem) string { return it.key }), nil
}

func (p *Pipeline) uploadOne(ctx context.Context, it uploadItem) (objectstore.PutResult, error) {
	var sum string
	if p.ledger != nil {
		var err error
		if sum, err = ledger.Checksum(it.path); err != nil {
			return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrIO, it.key, "hashing postings file: %v", err)
		}
		if p.ledger.Unchanged(ctx, p.cfg.DestBucket, it.key, sum) {
			return objectstore.PutResult{Skipped: true}, nil
		}
	}
	res, err := p.store.Put(ctx, p.cfg.DestBucket, it.key, it.path)
	if err != nil {
		return res, err
	}
	// A put skipped by the store uploaded nothing, so there is no content to
	// vouch for.
	if p.ledger != nil && !res.Skipped {
		p.ledger.Record(ctx, p.cfg.DestBucket, it.key, sum)
	}
	return res, nil
}

// listOutput returns the term files in dir sorted by key. Partial writes
// live in the writer's staging directory and never appear here.
func listOutput(dir string) ([]uploadItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pipelineerrors.Newf(pipelineerrors.ErrIO, dir, "reading output directory: %v", err)
	}
	items := make([]uploadItem, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		items = append(items, uploadItem{key: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	return items, nil
}
