// Package objectstore implements the Object Store Adapter (C1): three
// named, lazily-created buckets addressed by flat forward-slash keys.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/priceledger/pricelistd/internal/pricelisterr"
)

// Bucket names, matching spec §4.1 and the object store layout in spec §6.
const (
	BucketPDFs   = "pdfs"
	BucketPages  = "pages"
	BucketOutput = "output"
)

// Config configures the MinIO-compatible client.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Store is the Object Store Adapter. It is safe for concurrent use: callers
// never write the same key concurrently except through ingest, which the
// pipeline already serializes per-upload (spec §5).
type Store struct {
	client  *minio.Client
	buckets []string
}

// New connects to the object store and lazily creates its three buckets.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	s := &Store{client: client, buckets: []string{BucketPDFs, BucketPages, BucketOutput}}
	for _, bucket := range s.buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return s, nil
}

// Put stores bytes at bucket/key. Failures are surfaced as Upstream errors
// since the object store is an external collaborator (spec §7).
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return pricelisterr.NewUpstream(err, "put object %s/%s", bucket, key)
	}
	return nil
}

// Get retrieves bytes at bucket/key. A failure to read a present object is
// fatal to the calling operation (spec §4.1).
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, pricelisterr.NewUpstream(err, "get object %s/%s", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, pricelisterr.NewNotFound("object %s/%s not found", bucket, key)
		}
		return nil, pricelisterr.NewUpstream(err, "read object %s/%s", bucket, key)
	}
	return data, nil
}

// Exists reports whether bucket/key is present.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, pricelisterr.NewUpstream(err, "stat object %s/%s", bucket, key)
}

// DeletePrefix removes every object under bucket/prefix. Best-effort
// idempotent: a missing prefix is not an error (spec §4.1).
func (s *Store) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	objectsCh := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range objectsCh {
		if obj.Err != nil {
			return pricelisterr.NewUpstream(obj.Err, "list objects %s/%s*", bucket, prefix)
		}
		if err := s.client.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			return pricelisterr.NewUpstream(err, "delete object %s/%s", bucket, obj.Key)
		}
	}
	return nil
}

// ListPrefix lists object keys under bucket/prefix in lexical order.
func (s *Store) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, pricelisterr.NewUpstream(obj.Err, "list objects %s/%s*", bucket, prefix)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || strings.Contains(err.Error(), "does not exist")
}

// PDFKey is the object key for an Upload's original document.
func PDFKey(uploadID, ext string) string {
	return fmt.Sprintf("%s/original.%s", uploadID, ext)
}

// PageKey is the object key for a rendered page PNG (1-based, zero-padded to 3).
func PageKey(uploadID string, pageNum int) string {
	return fmt.Sprintf("%s/page_%03d.png", uploadID, pageNum)
}

// CSVKey is the object key for a persisted extraction CSV.
func CSVKey(uploadID string) string {
	return fmt.Sprintf("%s.csv", uploadID)
}
