// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

const contentType = "application/zstd"

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region skips bucket location lookups when set.
	Region string
}

// MinioStore keeps compressed payloads as objects in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket if missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %s: %w", cfg.Bucket, err)
		}
		log.Infof("Created artifact bucket %s", cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under key.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	payload := compress(data)
	_, err = s.client.PutObject(ctx, s.bucket, cleaned, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	return nil
}

// Get downloads and decompresses the object at key.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	defer func() { _ = obj.Close() }()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(key, err)
	}
	return decompress(raw)
}

func (s *MinioStore) wrap(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("blob: get %s: %w", key, err)
}
