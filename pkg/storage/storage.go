package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the blob store operations used by the application.
type Storage interface {
	// Put uploads size bytes from r. The key must be supplied with WithKey.
	Put(ctx context.Context, r io.Reader, size int64, opts ...Option) (*FileInfo, error)

	// Get retrieves an object. The caller must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a presigned read URL for key.
	URL(ctx context.Context, key string, opts ...URLOption) (string, error)
}

// Config holds S3-compatible storage configuration.
// Embed it in the application config for env parsing.
type Config struct {
	// Driver selects the implementation: "s3" or "memory".
	Driver string `env:"STORAGE_DRIVER" envDefault:"s3"`

	// Bucket is the bucket name (required for s3).
	Bucket string `env:"STORAGE_BUCKET"`

	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`

	// Endpoint is a custom endpoint URL for MinIO, B2 and other S3-compatible services.
	Endpoint string `env:"STORAGE_ENDPOINT"`

	Region string `env:"STORAGE_REGION" envDefault:"us-east-1"`

	// PathStyle enables path-style addressing (required for MinIO).
	PathStyle bool `env:"STORAGE_PATH_STYLE" envDefault:"false"`

	// DefaultACL applies to every put unless overridden.
	DefaultACL ACL `env:"STORAGE_DEFAULT_ACL" envDefault:"private"`

	// Timeout bounds a single attempt of a blob operation.
	Timeout time.Duration `env:"STORAGE_TIMEOUT" envDefault:"30s"`

	// Retries is the number of retries after the first attempt for transient failures.
	Retries uint64 `env:"STORAGE_RETRIES" envDefault:"3"`

	// RetryBase is the initial backoff between attempts; it doubles per retry.
	RetryBase time.Duration `env:"STORAGE_RETRY_BASE" envDefault:"200ms"`
}

// FileInfo contains metadata about a stored object.
type FileInfo struct {
	Key         string
	ContentType string
	ACL         ACL
	Size        int64
}

// ACL represents access control levels for stored objects.
type ACL string

const (
	// ACLPrivate makes the object readable only via signed URLs.
	ACLPrivate ACL = "private"

	// ACLPublicRead makes the object publicly readable.
	ACLPublicRead ACL = "public-read"
)

// Driver names.
const (
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Default configuration values.
const (
	DefaultRegion = "us-east-1"

	// DefaultURLExpiry is used when no expiry is requested.
	DefaultURLExpiry = 15 * time.Minute

	// MaxSignedURLExpiry is the hard upper bound of any presigned URL.
	MaxSignedURLExpiry = time.Hour
)

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.DefaultACL == "" {
		c.DefaultACL = ACLPrivate
	}
}

func (c *Config) validate() error {
	if c.Bucket == "" || c.AccessKey == "" || c.SecretKey == "" {
		return ErrInvalidConfig
	}
	return nil
}
