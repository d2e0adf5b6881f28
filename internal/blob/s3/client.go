// Package s3blob archives relay events to an S3-compatible object store.
// The archiver buffers master events and uploads them as daily JSONL
// objects; anything speaking the S3 API (AWS, MinIO, R2) works through the
// endpoint override.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig points the archive at one bucket.
type ClientConfig struct {
	Endpoint       string // S3-compatible endpoint URL; empty means AWS S3
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool // scheme for scheme-less endpoints
	ForcePathStyle bool // bucket in the path, needed by most self-hosted stores
}

// Client owns the SDK client and the archive bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the archive client. Credentials are always the static pair from
// the config; the relay never runs with ambient AWS identity.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Close is a no-op; the SDK's HTTP client needs no explicit teardown. It
// exists so the archive registers like every other wired dependency.
func (c *Client) Close() error {
	return nil
}

// withScheme prepends http(s) to scheme-less endpoints so operators can
// configure "minio:9000" and the like.
func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
