// Package reportsink publishes run artifacts to S3-compatible object storage.
package reportsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/backfill"
)

// Config locates the bucket run reports go to. An empty Bucket disables publishing.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether a bucket is configured
func (c Config) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("report endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("report endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("report access key and secret key are required")
	}
	return nil
}

// Uploader is the subset of *minio.Client the sink uses
type Uploader interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Sink uploads run summaries and retry files
type Sink struct {
	client  Uploader
	cfg     Config
	logger  zerolog.Logger
	timeout time.Duration
}

// New creates a MinIO client for cfg
func New(cfg Config, logger zerolog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient uses an existing uploader
func NewWithClient(client Uploader, cfg Config, logger zerolog.Logger) *Sink {
	return &Sink{client: client, cfg: cfg, logger: logger, timeout: 30 * time.Second}
}

// KeyPrefix is where a run's objects are stored: <prefix>/<collection>/<run-id>
func (s *Sink) KeyPrefix(summary *backfill.RunSummary) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		prefix = "runs"
	}
	return path.Join(prefix, summary.Collection, summary.RunID)
}

// Publish uploads summary.json and, when retryPath is set, retry.godb.
// It returns the object keys written.
func (s *Sink) Publish(ctx context.Context, summary *backfill.RunSummary, retryPath string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", s.cfg.Bucket, err)
	}

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	base := s.KeyPrefix(summary)
	var keys []string
	summaryKey := base + "/summary.json"
	if err := s.put(ctx, summaryKey, body, "application/json"); err != nil {
		return keys, err
	}
	keys = append(keys, summaryKey)

	if retryPath != "" {
		data, err := os.ReadFile(retryPath)
		if err != nil {
			return keys, fmt.Errorf("failed to read retry file: %w", err)
		}
		retryKey := base + "/retry.godb"
		if err := s.put(ctx, retryKey, data, "application/octet-stream"); err != nil {
			return keys, err
		}
		keys = append(keys, retryKey)
	}

	s.logger.Info().Str("bucket", s.cfg.Bucket).Strs("keys", keys).Msg("run report published")
	return keys, nil
}

func (s *Sink) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
