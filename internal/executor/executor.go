// Package executor runs independent work items on a bounded number of
// goroutines. It is the single fan-out primitive behind every stage of the
// pipeline: downloads, shard parsing, record transformation, postings writes
// and uploads.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item. Index is the item's position in the
// input slice.
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// Observer is notified around every worker invocation.
type Observer interface {
	Started()
	Finished(err error)
}

// ProgressFunc is called once per completed item with the number of items
// completed so far. Calls are serialized.
type ProgressFunc[T, R any] func(done, total int, r Result[T, R])

type options[T, R any] struct {
	progress ProgressFunc[T, R]
	observer Observer
}

// Option configures RunAll.
type Option[T, R any] func(*options[T, R])

func WithProgress[T, R any](fn ProgressFunc[T, R]) Option[T, R] {
	return func(o *options[T, R]) { o.progress = fn }
}

func WithObserver[T, R any](obs Observer) Option[T, R] {
	return func(o *options[T, R]) { o.observer = obs }
}

// RunAll invokes worker once for every item with at most maxConcurrency
// invocations running at the same time, and returns one Result per item in
// completion order. A failing or panicking worker only affects its own
// Result. RunAll returns after every item has completed.
func RunAll[T, R any](
	ctx context.Context,
	items []T,
	maxConcurrency int,
	worker func(ctx context.Context, item T) (R, error),
	opts ...Option[T, R],
) []Result[T, R] {
	var o options[T, R]
	for _, opt := range opts {
		opt(&o)
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if len(items) == 0 {
		return []Result[T, R]{}
	}

	completed := make(chan Result[T, R], maxConcurrency)
	results := make([]Result[T, R], 0, len(items))
	var collect sync.WaitGroup
	collect.Add(1)
	go func() {
		defer collect.Done()
		for r := range completed {
			results = append(results, r)
			if o.progress != nil {
				o.progress(len(results), len(items), r)
			}
		}
	}()

	// Workers never return an error to the group, so one item's failure
	// cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for i, item := range items {
		i, item := i, item // per-iteration copies (go.mod targets go 1.21)
		g.Go(func() error {
			completed <- invoke(ctx, i, item, worker, o.observer)
			return nil
		})
	}
	g.Wait()
	close(completed)
	collect.Wait()
	return results
}

func invoke[T, R any](
	ctx context.Context,
	index int,
	item T,
	worker func(ctx context.Context, item T) (R, error),
	obs Observer,
) (r Result[T, R]) {
	r.Index = index
	r.Item = item
	if obs != nil {
		obs.Started()
		defer func() { obs.Finished(r.Err) }()
	}
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("worker panic on item %d: %v\n%s", index, p, debug.Stack())
		}
	}()
	r.Value, r.Err = worker(ctx, item)
	return r
}
