// Package ledger remembers which postings files were uploaded, keyed by
// bucket and object key, with the SHA-256 of the uploaded content. The
// upload stage consults it to skip files that have not changed since the
// last run.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/redis"
)

const keyPrefix = "tfi:upload:"

// Backend is the subset of the Redis client the ledger uses.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Backend = (*redis.Client)(nil)

type Ledger struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a Ledger over backend. Entries expire after ttl; zero keeps
// them forever.
func New(backend Backend, ttl time.Duration) *Ledger {
	return &Ledger{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "upload-ledger"),
	}
}

func entryKey(bucket, key string) string {
	return keyPrefix + bucket + ":" + key
}

// Unchanged reports whether key was last uploaded to bucket with the given
// checksum. Lookup errors are logged and reported as changed so the upload
// proceeds.
func (l *Ledger) Unchanged(ctx context.Context, bucket, key, sum string) bool {
	if l == nil {
		return false
	}
	stored, found, err := l.backend.Get(ctx, entryKey(bucket, key))
	if err != nil {
		l.logger.Warn("ledger lookup failed", "bucket", bucket, "key", key, "error", err)
		return false
	}
	return found && stored == sum
}

// Record stores sum as the latest uploaded checksum for key.
func (l *Ledger) Record(ctx context.Context, bucket, key, sum string) {
	if l == nil {
		return
	}
	if err := l.backend.Set(ctx, entryKey(bucket, key), sum, l.ttl); err != nil {
		l.logger.Warn("ledger record failed", "bucket", bucket, "key", key, "error", err)
	}
}

// Reset forgets every entry for bucket, forcing the next run to re-upload.
func (l *Ledger) Reset(ctx context.Context, bucket string) (int64, error) {
	n, err := l.backend.DeleteByPattern(ctx, keyPrefix+bucket+":*")
	if err != nil {
		return n, fmt.Errorf("resetting ledger for bucket %s: %w", bucket, err)
	}
	l.logger.Info("ledger reset", "bucket", bucket, "deleted", n)
	return n, nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
