package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/parley/internal/logger"
)

// Client wraps MinIO for off-host backups of the discussions database.
type Client struct {
	mc     *minio.Client
	bucket string
}

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewClient creates a new storage client
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "parley-backups"
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// Init creates the backup bucket if it doesn't exist
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

// BackupDatabase uploads a timestamped copy of the database file. The sqlite
// store runs WAL mode, so a plain file copy of the main database is a
// consistent snapshot of everything checkpointed so far.
func (c *Client) BackupDatabase(ctx context.Context, dbPath string) (string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat database: %w", err)
	}

	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), filepath.Base(dbPath))
	_, err = c.mc.PutObject(ctx, c.bucket, name, f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", c.bucket, name, err)
	}

	logger.Info("database backed up", "bucket", c.bucket, "object", name, "size", info.Size())
	return name, nil
}

// ListBackups lists stored backup objects, newest naming first is not
// guaranteed; callers sort if they care.
func (c *Client) ListBackups(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

// Delete removes a backup object
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c.bucket, name, err)
	}
	return nil
}

// Healthy checks if MinIO is reachable
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
