// Package s3 stores the snapshot as a single object in an S3 bucket or an
// S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/internal/telemetry"
	"github.com/marmos91/flashwear/pkg/snapshot"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

const objectName = "snapshot.fwsn"

// Config configures an S3 store.
type Config struct {
	Bucket string `mapstructure:"bucket" validate:"required"`
	Region string `mapstructure:"region"`

	// Endpoint overrides the service URL, e.g. for MinIO or Localstack.
	Endpoint string `mapstructure:"endpoint"`

	// KeyPrefix is prepended to the object key; it should end in "/".
	KeyPrefix string `mapstructure:"key_prefix"`

	// Device names the object, so several engines can share a bucket.
	Device string `mapstructure:"device"`

	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Static credentials. Empty uses the SDK default chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type Store struct {
	client *s3.Client
	bucket string
	key    string

	mu     sync.RWMutex
	closed bool
}

// New creates a store on an existing client.
func New(client *s3.Client, cfg Config) *Store {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return &Store{client: client, bucket: cfg.Bucket, key: cfg.KeyPrefix + device + "/" + objectName}
}

// NewFromConfig builds the client from cfg and the SDK default chain.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 snapshot store: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return New(client, cfg), nil
}

// Key returns the object key the snapshot is stored under.
func (s *Store) Key() string { return s.key }

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot.ErrStoreClosed
	}
	return nil
}

func (s *Store) Save(ctx context.Context, snap *wearlevel.Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartStoreSpan(ctx, snapshot.TypeS3, "save",
		telemetry.Bucket(s.bucket), telemetry.StorageKey(s.key), telemetry.Bytes(len(data)))
	defer span.End()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"taken-at": snap.TakenAt.UTC().Format(time.RFC3339Nano),
			"blocks":   strconv.Itoa(len(snap.Blocks)),
		},
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("s3 put snapshot: %w", err)
	}
	logger.DebugCtx(ctx, "Snapshot uploaded", logger.Bucket(s.bucket), logger.Key(s.key), logger.Size(len(data)))
	return nil
}

func (s *Store) Load(ctx context.Context) (*wearlevel.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartStoreSpan(ctx, snapshot.TypeS3, "load",
		telemetry.Bucket(s.bucket), telemetry.StorageKey(s.key))
	defer span.End()

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if isNotFound(err) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("s3 get snapshot: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return snapshot.Decode(data)
}

// Healthcheck checks that the bucket exists and is reachable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the store closed; the client holds no resources to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ snapshot.Store = (*Store)(nil)
