// Package objstore retrieves liveness evaluation logs from an S3-compatible
// bucket laid out as client=/tenant=/year=/month=/day=/resource= prefixes.
package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// LogQuery addresses one day's worth of logs for a client/tenant pair.
type LogQuery struct {
	Client   string
	Tenant   string
	Year     int
	Month    int
	Day      int
	Resource string
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Prefix builds the object prefix for a query; with Resource set it descends
// into that resource's partition.
func (q LogQuery) Prefix() string {
	base := fmt.Sprintf("client=%s/tenant=%s/year=%d/month=%02d/day=%02d/",
		q.Client, q.Tenant, q.Year, q.Month, q.Day)
	if strings.TrimSpace(q.Resource) != "" {
		return base + "resource=" + q.Resource + "/"
	}
	return base
}

// ListResources lists the resource partitions available for a query's date.
func (s *Store) ListResources(ctx context.Context, query LogQuery) ([]string, error) {
	query.Resource = ""
	prefix := query.Prefix()
	resources := map[string]bool{}
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list resources: %w", object.Err)
		}
		rest := strings.TrimPrefix(object.Key, prefix)
		if !strings.HasPrefix(rest, "resource=") {
			continue
		}
		if slash := strings.Index(rest, "/"); slash != -1 {
			resources[strings.TrimPrefix(rest[:slash], "resource=")] = true
		}
	}
	out := make([]string, 0, len(resources))
	for resource := range resources {
		out = append(out, resource)
	}
	sort.Strings(out)
	return out, nil
}

// ListLogs lists the JSON log objects under a fully-qualified query.
func (s *Store) ListLogs(ctx context.Context, query LogQuery) ([]string, error) {
	prefix := query.Prefix()
	keys := make([]string, 0, 32)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list logs: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, ".json") {
			keys = append(keys, object.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Download fetches one log object into destDir under its base name and
// returns the local path.
func (s *Store) Download(ctx context.Context, key, destDir string) (string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer object.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	localPath := filepath.Join(destDir, filepath.Base(key))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, object); err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	return localPath, nil
}
