// Package media stores thumbnail uploads in S3-compatible object storage.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads thumbnails and builds their public URLs.
type Store struct {
	client *minio.Client
	bucket string
	useSSL bool
}

// New creates an object storage client. Returns (nil, nil) when the endpoint
// or credentials are empty so the app can run without uploads configured.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	return &Store{client: client, bucket: bucket, useSSL: useSSL}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// UploadThumbnail stores one thumbnail under thumbnails/<postID>/<filename>
// and returns its public URL.
func (s *Store) UploadThumbnail(ctx context.Context, postID, filename, contentType string, body io.Reader, size int64) (string, error) {
	key := "thumbnails/" + postID + "/" + sanitizeFilename(filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload thumbnail %s: %w", key, err)
	}
	return s.FileURL(key), nil
}

// Delete removes an object by key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// FileURL builds the path-style public URL for a stored object.
func (s *Store) FileURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return scheme + "://" + s.client.EndpointURL().Host + "/" + s.bucket + "/" + key
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	if name == "" {
		name = "upload"
	}
	return name
}
