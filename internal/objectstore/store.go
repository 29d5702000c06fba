// Package objectstore defines the object-store collaborator the pipeline
// downloads raw shards from and uploads term files to, plus helpers shared by
// its drivers.
package objectstore

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// PutResult describes what Put did.
type PutResult struct {
	// Skipped is true when an object with the same key already existed and
	// the upload was not performed.
	Skipped bool
}

// Store is implemented by every object-store driver.
//
// ListKeys returns every key in the bucket; drivers page internally and never
// truncate. Fetch writes the object under destDir, keeping the key's path,
// and returns the local path. Errors wrap ErrNotFound, ErrTransfer or
// ErrProvisioning from pkg/errors.
type Store interface {
	ListKeys(ctx context.Context, bucket string) ([]string, error)
	Fetch(ctx context.Context, bucket, key, destDir string) (string, error)
	Put(ctx context.Context, bucket, key, localPath string) (PutResult, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// BucketChecker is implemented by drivers that can cheaply confirm a bucket
// is reachable. The CLI uses it for preflight checks.
type BucketChecker interface {
	CheckBucket(ctx context.Context, bucket string) error
}

// PartialPrefix starts the name of every temporary file a driver writes
// while a transfer is in flight. An interrupted fetch can leave one behind.
const PartialPrefix = ".tfi-partial-"

// IsPartial reports whether a file name belongs to an unfinished transfer.
func IsPartial(name string) bool {
	return strings.HasPrefix(name, PartialPrefix)
}

// LocalPath maps key to a path under destDir, refusing keys that would
// resolve outside it.
func LocalPath(destDir, key string) (string, error) {
	if key == "" {
		return "", pipelineerrors.New(pipelineerrors.ErrTransfer, key, "empty key")
	}
	p := filepath.Join(destDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(destDir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", pipelineerrors.New(pipelineerrors.ErrTransfer, key, "key escapes destination directory")
	}
	return p, nil
}

// SelectKeys filters keys by prefix, sorts them and applies the 1-based
// inclusive [start, end] window. Zero bounds are open.
func SelectKeys(keys []string, prefix string, start, end int) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	lo := 0
	if start > 1 {
		lo = start - 1
	}
	hi := len(out)
	if end > 0 && end < hi {
		hi = end
	}
	if lo >= hi {
		return []string{}
	}
	return out[lo:hi]
}
