// Package blob stores file bodies in an S3-compatible bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mveditor/api/internal/store"
)

// Config locates the bucket and its credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Store keeps one object per file under "<workspace>/<file>".
type S3Store struct {
	client *minio.Client
	bucket string
}

// New returns a store for cfg.Bucket. It does not create the bucket.
func New(cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blob: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blob: make bucket: %w", err)
	}
	return nil
}

// Put writes content as the file's object, replacing any previous body.
func (s *S3Store) Put(ctx context.Context, workspaceID, fileID, content string) error {
	// A streaming-signed empty body goes out chunked with no Content-Length,
	// which S3 rejects; empty objects are sent with an unsigned payload.
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(workspaceID, fileID), strings.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:          "text/plain; charset=utf-8",
		DisableContentSha256: content == "",
	})
	if err != nil {
		return fmt.Errorf("blob: put %s: %w", fileID, err)
	}
	return nil
}

// Get returns store.ErrNotFound when the object does not exist.
func (s *S3Store) Get(ctx context.Context, workspaceID, fileID string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(workspaceID, fileID), minio.GetObjectOptions{})
	if err != nil {
		return "", s.mapError(fileID, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return "", s.mapError(fileID, err)
	}
	return string(body), nil
}

// Delete is a no-op for missing objects.
func (s *S3Store) Delete(ctx context.Context, workspaceID, fileID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(workspaceID, fileID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: delete %s: %w", fileID, err)
	}
	return nil
}

func (s *S3Store) mapError(fileID string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return store.ErrNotFound
	}
	return fmt.Errorf("blob: get %s: %w", fileID, err)
}

func objectKey(workspaceID, fileID string) string {
	return url.PathEscape(workspaceID) + "/" + url.PathEscape(fileID)
}
