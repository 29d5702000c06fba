package objectstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/resilience"
)

// Guarded wraps a Store with a per-call timeout, a circuit breaker that
// fails transfers fast once the backend keeps failing, and de-duplication of
// concurrent EnsureBucket calls for the same bucket.
type Guarded struct {
	next    Store
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
}

func NewGuarded(next Store, timeout time.Duration, cb *resilience.CircuitBreaker) *Guarded {
	return &Guarded{
		next:    next,
		timeout: timeout,
		breaker: cb,
		logger:  slog.Default().With("component", "guarded-store"),
	}
}

// CountsAsFailure is the circuit breaker failure predicate for stores: a
// missing object says nothing about backend health.
func CountsAsFailure(err error) bool {
	return !errors.Is(err, pipelineerrors.ErrNotFound)
}

func (g *Guarded) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var keys []string
	err := g.call(ctx, "list "+bucket, bucket, func(ctx context.Context) error {
		var err error
		keys, err = g.next.ListKeys(ctx, bucket)
		return err
	})
	return keys, err
}

func (g *Guarded) Fetch(ctx context.Context, bucket, key, destDir string) (string, error) {
	var path string
	err := g.call(ctx, "fetch "+key, key, func(ctx context.Context) error {
		var err error
		path, err = g.next.Fetch(ctx, bucket, key, destDir)
		return err
	})
	return path, err
}

func (g *Guarded) Put(ctx context.Context, bucket, key, localPath string) (PutResult, error) {
	var res PutResult
	err := g.call(ctx, "put "+key, key, func(ctx context.Context) error {
		var err error
		res, err = g.next.Put(ctx, bucket, key, localPath)
		return err
	})
	return res, err
}

// EnsureBucket is not guarded by the breaker: provisioning failures are
// fatal to the run and must surface as ErrProvisioning.
func (g *Guarded) EnsureBucket(ctx context.Context, bucket string) error {
	_, err, shared := g.group.Do(bucket, func() (interface{}, error) {
		return nil, resilience.WithTimeout(ctx, g.timeout, "ensure bucket "+bucket, func(ctx context.Context) error {
			return g.next.EnsureBucket(ctx, bucket)
		})
	})
	if shared {
		g.logger.Debug("ensure bucket call shared", "bucket", bucket)
	}
	if err != nil && !errors.Is(err, pipelineerrors.ErrProvisioning) {
		return pipelineerrors.Newf(pipelineerrors.ErrProvisioning, bucket, "%v", err)
	}
	return err
}

func (g *Guarded) call(ctx context.Context, name, item string, fn func(ctx context.Context) error) error {
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, g.timeout, name, fn)
	})
	if err == nil {
		return nil
	}
	if resilience.IsOpen(err) {
		return pipelineerrors.Newf(pipelineerrors.ErrTransfer, item, "%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pipelineerrors.ErrTransfer) {
		return pipelineerrors.Newf(pipelineerrors.ErrTransfer, item, "%v", err)
	}
	return err
}
