package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader stores finished export artifacts.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// ObjectStore uploads artifacts to an S3 compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (o *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := o.client.BucketExists(ctx, o.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", o.bucket, err)
	}
	if exists {
		return nil
	}
	if err := o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", o.bucket, err)
	}
	return nil
}

func (o *ObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
