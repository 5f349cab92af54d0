package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datagate-labs/datagate-go/internal/platform/env"
)

type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool
	BucketFiles string
	PresignTTL  time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DATAGATE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	presignTTL, err := env.Duration("DATAGATE_MINIO_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:    env.String("DATAGATE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:   env.String("DATAGATE_MINIO_ACCESS_KEY", "datagate"),
		SecretKey:   env.String("DATAGATE_MINIO_SECRET_KEY", "datagateminio"),
		Region:      env.String("DATAGATE_MINIO_REGION", "us-east-1"),
		UseSSL:      useSSL,
		BucketFiles: env.String("DATAGATE_MINIO_BUCKET_FILES", "datafiles"),
		PresignTTL:  presignTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketFiles) == "" {
		return errors.New("files bucket is required")
	}
	if c.PresignTTL <= 0 {
		return errors.New("presign ttl must be positive")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
