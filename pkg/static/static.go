// Package static stores binary assets (user avatars) outside the event log.
// Events carry only the asset key; the bytes live in a blob bucket.
package static

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	// Bucket drivers are opt-in - import in your application code:
	// _ "gocloud.dev/blob/azureblob" // Azure Blob Storage
	// _ "gocloud.dev/blob/fileblob"  // Local filesystem
	// _ "gocloud.dev/blob/gcsblob"   // Google Cloud Storage
	// _ "gocloud.dev/blob/memblob"   // In-memory (tests)
	// _ "gocloud.dev/blob/s3blob"    // Amazon S3

	"github.com/authapp/iamcore/pkg/errs"
)

// Asset describes a stored object.
type Asset struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Storage wraps a blob bucket behind the small surface the command and
// query sides need.
type Storage struct {
	bucket *blob.Bucket
}

// OpenStorage opens a bucket by URL.
//
// URL formats:
//   - Amazon S3: "s3://my-bucket?region=us-east-1"
//   - Google Cloud Storage: "gs://my-bucket"
//   - Azure Blob Storage: "azblob://my-container"
//   - Local (dev): "file:///var/lib/iamcore/assets"
//   - In-memory (tests): "mem://"
func OpenStorage(ctx context.Context, url string) (*Storage, error) {
	if url == "" {
		return nil, errs.NewInvalidArgument(nil, "STATC-vGm31", "bucket URL is required")
	}
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, errs.NewInternal(err, "STATC-pQ28e", "failed to open bucket")
	}
	return &Storage{bucket: bucket}, nil
}

// NewStorage wraps an already opened bucket.
func NewStorage(bucket *blob.Bucket) *Storage {
	return &Storage{bucket: bucket}
}

// Put writes an object and returns its descriptor.
func (s *Storage) Put(ctx context.Context, key, contentType string, data []byte) (*Asset, error) {
	if key == "" {
		return nil, errs.NewInvalidArgument(nil, "STATC-8dTlq", "object key is required")
	}
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return nil, errs.NewInternal(err, "STATC-wB4Ko", "failed to write object %s", key)
	}
	return &Asset{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

// Get reads an object.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errs.NewNotFound(err, "STATC-Hn6zt", "object %s not found", key)
		}
		return nil, errs.NewInternal(err, "STATC-c91Rd", "failed to read object %s", key)
	}
	return data, nil
}

// Remove deletes an object. Removing a missing object is not an error.
func (s *Storage) Remove(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errs.NewInternal(err, "STATC-aY3fu", "failed to delete object %s", key)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.bucket.Close()
}

// UserAvatarKey is the bucket key for a user's avatar.
func UserAvatarKey(instanceID, orgID, userID string) string {
	return fmt.Sprintf("%s/%s/users/%s/avatar", instanceID, orgID, userID)
}
