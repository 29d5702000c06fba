// Package transform turns parsed DocumentRecords into a term-indexed set of
// postings scored with augmented term frequency:
//
//	tf = 0.5 + 0.5 * count / maxCount
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/index"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/record"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/metrics"
)

const stageName = "transform"

// Transformer builds the inverted index. A Transformer can be reused; each
// Transform call starts from an empty index.
type Transformer struct {
	numShards      int
	maxConcurrency int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func New(numShards, maxConcurrency int, m *metrics.Metrics) *Transformer {
	return &Transformer{
		numShards:      numShards,
		maxConcurrency: maxConcurrency,
		metrics:        m,
		logger:         slog.Default().With("component", "tf-transformer"),
	}
}

// RecordError is a record that contributed no postings.
type RecordError struct {
	Key string
	Err error
}

// Output is the result of one Transform call.
type Output struct {
	Entries  []index.TermEntry
	Summary  executor.Summary
	Warnings []RecordError
	Errors   []RecordError
	Postings int64
	byTerm   map[string]int
}

// Lookup returns term's postings, sorted by URL then TF.
func (o *Output) Lookup(term string) (index.PostingList, bool) {
	i, ok := o.byTerm[term]
	if !ok {
		return nil, false
	}
	return o.Entries[i].Postings, true
}

// Transform scores every record concurrently and returns the resulting
// postings. Records without a max count are reported as warnings; records
// with an invalid max count, or with a term count above it, are reported as
// per-record errors. Neither aborts the transform.
func (t *Transformer) Transform(ctx context.Context, records []record.DocumentRecord) (*Output, error) {
	idx := index.NewShardedIndex(t.numShards)
	results := executor.RunAll(ctx, records, t.maxConcurrency,
		func(ctx context.Context, rec record.DocumentRecord) (int, error) {
			return t.transformRecord(idx, rec)
		},
		executor.WithObserver[record.DocumentRecord, int](t.metrics.Stage(stageName)),
	)

	out := &Output{Entries: idx.Snapshot(), Postings: idx.Postings()}
	out.byTerm = make(map[string]int, len(out.Entries))
	for i, e := range out.Entries {
		out.byTerm[e.Term] = i
	}

	var failed []executor.Result[record.DocumentRecord, int]
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		re := RecordError{Key: r.Item.Key, Err: r.Err}
		reason := pipelineerrors.Kind(r.Err)
		if t.metrics != nil {
			t.metrics.RecordsRejectedTotal.WithLabelValues(reason).Inc()
		}
		if pipelineerrors.IsWarning(r.Err) {
			t.logger.Warn("record skipped", "key", re.Key, "reason", reason)
			out.Warnings = append(out.Warnings, re)
			continue
		}
		t.logger.Error("record rejected", "key", re.Key, "error", r.Err)
		out.Errors = append(out.Errors, re)
		failed = append(failed, r)
	}
	sort.Slice(out.Warnings, func(i, j int) bool { return out.Warnings[i].Key < out.Warnings[j].Key })
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Key < out.Errors[j].Key })

	// Warnings are not failures: the summary counts them as processed.
	out.Summary = executor.Summarize(stageName, failed, func(r record.DocumentRecord) string { return r.Key })
	out.Summary.Total = len(results)
	out.Summary.Succeeded = len(results) - out.Summary.Failed

	if t.metrics != nil {
		t.metrics.PostingsTotal.Add(float64(out.Postings))
		t.metrics.TermsIndexed.Set(float64(len(out.Entries)))
	}
	t.logger.Info("transform complete",
		"records", len(records),
		"terms", len(out.Entries),
		"postings", out.Postings,
		"warnings", len(out.Warnings),
		"errors", len(out.Errors),
	)
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("transform interrupted: %w", err)
	}
	return out, nil
}

// transformRecord validates rec and, if it is usable, appends one posting per
// term. Validation happens before any append so a rejected record leaves the
// index untouched.
func (t *Transformer) transformRecord(idx *index.ShardedIndex, rec record.DocumentRecord) (int, error) {
	if !rec.HasMax {
		return 0, pipelineerrors.New(pipelineerrors.ErrMissingMaxCount, rec.Key, "record has no "+record.MaxMarker+" value")
	}
	if rec.MaxCount <= 0 {
		return 0, pipelineerrors.Newf(pipelineerrors.ErrInvalidMaxCount, rec.Key, "max count %d must be positive", rec.MaxCount)
	}
	for term, count := range rec.TermCounts {
		if count > rec.MaxCount {
			return 0, pipelineerrors.Newf(pipelineerrors.ErrCountExceedsMax, rec.Key,
				"term %q count %d exceeds max count %d", term, count, rec.MaxCount)
		}
	}
	if len(rec.TermCounts) == 0 {
		return 0, nil
	}
	postings := make(map[string]index.Posting, len(rec.TermCounts))
	for term, count := range rec.TermCounts {
		postings[term] = index.Posting{URL: rec.URL, TF: Score(count, rec.MaxCount)}
	}
	idx.AppendAll(postings)
	return len(postings), nil
}

// Score is the augmented term frequency of count in a document whose most
// frequent term occurs maxCount times. maxCount must be positive.
func Score(count, maxCount int) float64 {
	return 0.5 + 0.5*(float64(count)/float64(maxCount))
}
