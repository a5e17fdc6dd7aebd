package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions locates the archive bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// MinioArchiver uploads files to an S3-compatible bucket and removes the
// local copy once the upload succeeded.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioArchiver connects to the object store and creates the bucket if it
// does not exist yet.
func NewMinioArchiver(ctx context.Context, opts MinioOptions) (*MinioArchiver, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "extracts"
	}
	return &MinioArchiver{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

// Archive uploads path and returns its s3:// location.
func (a *MinioArchiver) Archive(ctx context.Context, file string) (string, error) {
	key := objectName(a.prefix, file)
	if _, err := a.client.FPutObject(ctx, a.bucket, key, file, minio.PutObjectOptions{ContentType: "text/csv"}); err != nil {
		return "", fmt.Errorf("upload %s: %w", file, err)
	}
	if err := os.Remove(file); err != nil {
		return "", fmt.Errorf("remove uploaded %s: %w", file, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}

func objectName(prefix, file string) string {
	return path.Join(prefix, filepath.Base(file))
}
