// Package objectstore mirrors approved version directories to an
// S3-compatible bucket so downloads can be served from object storage.
package objectstore

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// bucketClient is the slice of the MinIO client the mirror uses.
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Mirror struct {
	client bucketClient
	bucket string
}

func New(cfg Config) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("objectstore: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create client: %w", err)
	}
	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

func newWithClient(client bucketClient, bucket string) *Mirror {
	return &Mirror{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("objectstore: check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objectstore: make bucket %s: %w", m.bucket, err)
	}
	return nil
}

// MirrorVersion uploads every regular file in dir under <name>/<version>/.
// Symlinks and subdirectories are skipped. It returns the object keys
// written, sorted.
func (m *Mirror) MirrorVersion(ctx context.Context, name, version, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read %s: %w", dir, err)
	}

	var keys []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		key := path.Join(name, version, entry.Name())
		opts := minio.PutObjectOptions{ContentType: contentType(entry.Name())}
		if _, err := m.client.FPutObject(ctx, m.bucket, key, filepath.Join(dir, entry.Name()), opts); err != nil {
			return keys, fmt.Errorf("objectstore: put %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func contentType(fileName string) string {
	if value := mime.TypeByExtension(filepath.Ext(fileName)); value != "" {
		return value
	}
	return "application/octet-stream"
}
