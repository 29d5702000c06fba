// Package fsstore is an objectstore.Store backed by a local directory: each
// bucket is a sub-directory of the root and each key a file beneath it.
// It serves offline runs and tests.
package fsstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

type Store struct {
	root         string
	skipExisting bool
}

var (
	_ objectstore.Store         = (*Store)(nil)
	_ objectstore.BucketChecker = (*Store)(nil)
)

func New(root string, skipExisting bool) *Store {
	return &Store{root: root, skipExisting: skipExisting}
}

func (s *Store) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", pipelineerrors.New(pipelineerrors.ErrTransfer, bucket, "invalid bucket name")
	}
	return filepath.Join(s.root, bucket), nil
}

func (s *Store) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() || objectstore.IsPartial(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, pipelineerrors.New(pipelineerrors.ErrNotFound, bucket, "bucket does not exist")
	}
	if err != nil {
		return nil, pipelineerrors.Newf(pipelineerrors.ErrTransfer, bucket, "listing bucket: %v", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Fetch(ctx context.Context, bucket, key, destDir string) (string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	src, err := objectstore.LocalPath(dir, key)
	if err != nil {
		return "", err
	}
	dst, err := objectstore.LocalPath(destDir, key)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", pipelineerrors.Newf(pipelineerrors.ErrNotFound, key, "no such object in %s", bucket)
	}
	if err != nil {
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "opening object: %v", err)
	}
	defer in.Close()
	if err := copyAtomic(ctx, in, dst); err != nil {
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "fetching object: %v", err)
	}
	return dst, nil
}

func (s *Store) Put(ctx context.Context, bucket, key, localPath string) (objectstore.PutResult, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	if _, err := os.Stat(dir); err != nil {
		return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "bucket %s unavailable: %v", bucket, err)
	}
	dst, err := objectstore.LocalPath(dir, key)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	if s.skipExisting {
		if _, err := os.Stat(dst); err == nil {
			return objectstore.PutResult{Skipped: true}, nil
		}
	}
	in, err := os.Open(localPath)
	if err != nil {
		return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "opening local file: %v", err)
	}
	defer in.Close()
	if err := copyAtomic(ctx, in, dst); err != nil {
		return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "storing object: %v", err)
	}
	return objectstore.PutResult{}, nil
}

func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return pipelineerrors.Newf(pipelineerrors.ErrProvisioning, bucket, "%v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pipelineerrors.Newf(pipelineerrors.ErrProvisioning, bucket, "creating bucket directory: %v", err)
	}
	return nil
}

// CheckBucket fails with ErrNotFound when the bucket directory is missing.
func (s *Store) CheckBucket(_ context.Context, bucket string) error {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return pipelineerrors.New(pipelineerrors.ErrNotFound, bucket, "bucket does not exist")
	}
	return nil
}

func copyAtomic(ctx context.Context, r io.Reader, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), objectstore.PartialPrefix+"*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
