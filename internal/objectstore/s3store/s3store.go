// Package s3store is an objectstore.Store backed by Amazon S3 or an
// S3-compatible service. Credentials come from the SDK's default chain.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/config"
	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// defaultRegion needs no LocationConstraint on CreateBucket.
const defaultRegion = "us-east-1"

type Store struct {
	client       *s3.Client
	downloader   *manager.Downloader
	uploader     *manager.Uploader
	region       string
	skipExisting bool
	logger       *slog.Logger
}

var (
	_ objectstore.Store         = (*Store)(nil)
	_ objectstore.BucketChecker = (*Store)(nil)
)

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromClient(client, cfg.Region, cfg.SkipExisting), nil
}

func NewFromClient(client *s3.Client, region string, skipExisting bool) *Store {
	return &Store{
		client:       client,
		downloader:   manager.NewDownloader(client),
		uploader:     manager.NewUploader(client),
		region:       region,
		skipExisting: skipExisting,
		logger:       slog.Default().With("component", "s3-store"),
	}
}

// ListKeys walks every ListObjectsV2 page.
func (s *Store) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, pipelineerrors.Newf(pipelineerrors.ErrNotFound, bucket, "listing bucket: %v", err)
			}
			return nil, pipelineerrors.Newf(pipelineerrors.ErrTransfer, bucket, "listing bucket after %d keys: %v", len(keys), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		s.logger.Debug("listed page", "bucket", bucket, "page_keys", len(page.Contents), "total", len(keys))
	}
	s.logger.Info("listing complete", "bucket", bucket, "keys", len(keys))
	return keys, nil
}

func (s *Store) Fetch(ctx context.Context, bucket, key, destDir string) (string, error) {
	dst, err := objectstore.LocalPath(destDir, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "creating local directory: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), objectstore.PartialPrefix+"*")
	if err != nil {
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "creating local file: %v", err)
	}
	_, dlErr := s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if dlErr != nil {
		os.Remove(tmp.Name())
		if isNotFound(dlErr) {
			return "", pipelineerrors.Newf(pipelineerrors.ErrNotFound, key, "%v", dlErr)
		}
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "downloading: %v", dlErr)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "closing local file: %v", closeErr)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "renaming local file: %v", err)
	}
	return dst, nil
}

// Put uploads localPath, skipping keys that already exist when the store was
// built with skipExisting.
func (s *Store) Put(ctx context.Context, bucket, key, localPath string) (objectstore.PutResult, error) {
	if s.skipExisting {
		exists, err := s.objectExists(ctx, bucket, key)
		if err != nil {
			return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "checking object: %v", err)
		}
		if exists {
			return objectstore.PutResult{Skipped: true}, nil
		}
	}
	f, err := os.Open(localPath)
	if err != nil {
		return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "opening local file: %v", err)
	}
	defer f.Close()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return objectstore.PutResult{}, pipelineerrors.Newf(pipelineerrors.ErrTransfer, key, "uploading: %v", err)
	}
	return objectstore.PutResult{}, nil
}

// EnsureBucket creates bucket when HeadBucket reports it missing.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		s.logger.Info("bucket already exists", "bucket", bucket)
		return nil
	}
	if !isNotFound(err) {
		return pipelineerrors.Newf(pipelineerrors.ErrProvisioning, bucket, "checking bucket: %v", err)
	}

	s.logger.Info("bucket does not exist, creating it", "bucket", bucket, "region", s.region)
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return pipelineerrors.Newf(pipelineerrors.ErrProvisioning, bucket, "creating bucket: %v", err)
	}
	s.logger.Info("bucket created", "bucket", bucket)
	return nil
}

// CheckBucket issues a HeadBucket, which also validates credentials.
func (s *Store) CheckBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return pipelineerrors.Newf(pipelineerrors.ErrNotFound, bucket, "%v", err)
	}
	return pipelineerrors.Newf(pipelineerrors.ErrTransfer, bucket, "checking bucket: %v", err)
}

func (s *Store) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket", "404":
			return true
		}
	}
	return false
}
