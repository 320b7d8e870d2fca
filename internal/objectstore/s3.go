package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// S3Options configures an S3-compatible endpoint (AWS, MinIO, Yandex Object Storage, ...).
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3 stores objects in an S3-compatible service.
type S3 struct {
	client *minio.Client
	log    logrus.FieldLogger
}

// NewS3 creates an S3 client. No request is made until the first Put or Get.
func NewS3(opts S3Options, logger logrus.FieldLogger) (*S3, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("S3 endpoint is not set")
	}
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client for %s: %w", opts.Endpoint, err)
	}
	return &S3{
		client: cli,
		log:    logger.WithField("component", "s3"),
	}, nil
}

func (s *S3) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	s.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"size":   info.Size,
	}).Info("Object uploaded")
	return nil
}

func (s *S3) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the caller starts reading.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (s *S3) Close() error { return nil }
