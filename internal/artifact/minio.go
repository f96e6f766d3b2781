package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds object storage connection settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore keeps artifacts in an S3 compatible bucket
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects to the endpoint and creates the bucket if missing
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("artifact: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("artifact: create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created artifact bucket", slog.String("bucket", cfg.Bucket))
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads localPath as key. The caller owns the local file.
func (s *MinioStore) Put(ctx context.Context, key, localPath, contentType string) (Object, error) {
	ref, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}

	info, err := s.client.FPutObject(ctx, s.bucket, ref, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("artifact: upload %s: %w", ref, err)
	}

	s.logger.Debug("Uploaded artifact",
		slog.String("bucket", s.bucket),
		slog.String("key", ref),
		slog.Int64("size", info.Size),
	)

	return Object{Ref: ref, Size: info.Size, ContentType: contentType}, nil
}

// Open streams the object
func (s *MinioStore) Open(ctx context.Context, ref string) (io.ReadCloser, Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("artifact: get %s: %w", ref, err)
	}

	// GetObject is lazy, Stat performs the request
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("artifact: stat %s: %w", ref, err)
	}

	return obj, Object{Ref: ref, Size: stat.Size, ContentType: stat.ContentType}, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("artifact: delete %s: %w", ref, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
