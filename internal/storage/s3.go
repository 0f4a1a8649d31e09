package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bookforge/internal/domain"
)

const maxPresignTTL = 7 * 24 * time.Hour

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	UseSSL     bool
	PresignTTL time.Duration
}

// S3Store uploads artifacts to an S3 compatible bucket and links them with
// presigned GET URLs.
type S3Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewS3Store builds the client. It does not contact the server.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" || strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 endpoint and bucket are required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create s3 client: %w", err)
	}
	ttl := opts.PresignTTL
	if ttl <= 0 || ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	return &S3Store{client: client, bucket: opts.Bucket, ttl: ttl}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: create bucket: %w", err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, mimeType string) (*domain.AssetRef, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 put object: %w", err)
	}
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, cleanKey, s.ttl, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("storage: presign: %w", err)
	}
	return &domain.AssetRef{
		Key:      cleanKey,
		URL:      signed.String(),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}
