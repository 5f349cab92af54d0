package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/datagate-labs/datagate-go/internal/domain"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := ensureBucket(ctx, client, cfg.BucketFiles, cfg.Region); err != nil {
		return fmt.Errorf("ensure files bucket: %w", err)
	}
	return nil
}

func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.BucketFiles)
	if err != nil {
		return fmt.Errorf("files bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("files bucket missing: %s", cfg.BucketFiles)
	}
	return nil
}

// PresignDownload returns a short-lived GET URL for a stored data file. Files
// carry their own bucket; the configured bucket is the fallback for rows
// written before buckets were recorded per file.
func PresignDownload(ctx context.Context, client *minio.Client, cfg Config, file domain.DataFile) (string, error) {
	bucket := file.StorageBucket
	if bucket == "" {
		bucket = cfg.BucketFiles
	}
	params := make(url.Values)
	if file.Name != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	}
	presigned, err := client.PresignedGetObject(ctx, bucket, file.ObjectKey(), cfg.PresignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, file.ObjectKey(), err)
	}
	return presigned.String(), nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
