// Package config loads the service configuration from the environment.
// An optional .env file in the working directory is read first; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/logger"
	"github.com/dmitrymomot/filevault/pkg/mailer"
	"github.com/dmitrymomot/filevault/pkg/mailer/resend"
	"github.com/dmitrymomot/filevault/pkg/redis"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

var (
	ErrLoadDotenv  = errors.New("config: failed to load .env file")
	ErrParse       = errors.New("config: failed to parse environment")
	ErrMissingJWT  = errors.New("config: JWT_SECRET is required to serve requests")
	ErrInvalidSize = errors.New("config: MAX_UPLOAD_SIZE must be positive")
)

// HTTP configures the listener and the request surface.
type HTTP struct {
	Addr    string `env:"HTTP_ADDR" envDefault:":8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// Read and write timeouts cover whole uploads, so they are generous.
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10m"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	JWTSecret       string        `env:"JWT_SECRET"`
	// WebhookSecret enables POST /webhooks/billing when set.
	WebhookSecret string `env:"BILLING_WEBHOOK_SECRET"`
}

// Vault holds the storage rules of the service.
type Vault struct {
	MaxUploadSize         int64         `env:"MAX_UPLOAD_SIZE" envDefault:"104857600"`
	TrashRetention        time.Duration `env:"TRASH_RETENTION" envDefault:"720h"`
	ShareURLTTL           time.Duration `env:"SHARE_URL_TTL" envDefault:"1h"`
	PlanCacheTTL          time.Duration `env:"PLAN_CACHE_TTL" envDefault:"5m"`
	QuotaWarningThreshold float64       `env:"QUOTA_WARNING_THRESHOLD" envDefault:"0.9"`
}

// Jobs configures the background worker.
type Jobs struct {
	Workers           int    `env:"JOB_WORKERS" envDefault:"10"`
	SweepSchedule     string `env:"TRASH_SWEEP_SCHEDULE" envDefault:"0 * * * *"`
	SweepBatch        int    `env:"TRASH_SWEEP_BATCH" envDefault:"100"`
	DowngradeSchedule string `env:"SUBSCRIPTION_DOWNGRADE_SCHEDULE" envDefault:"15 * * * *"`
	// Embedded runs the worker inside serve.
	Embedded bool `env:"JOB_EMBEDDED_WORKER" envDefault:"true"`
}

type Config struct {
	HTTP    HTTP
	Vault   Vault
	Jobs    Jobs
	Log     logger.Config
	DB      db.Config
	Storage storage.Config
	Redis   redis.Config
	Mailer  mailer.Config
	Resend  resend.Config
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Join(ErrLoadDotenv, err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParse, err)
	}
	if cfg.Vault.MaxUploadSize <= 0 {
		return Config{}, fmt.Errorf("%w: got %d", ErrInvalidSize, cfg.Vault.MaxUploadSize)
	}
	return cfg, nil
}

// ValidateServe checks what only the HTTP server needs.
func (c Config) ValidateServe() error {
	if c.HTTP.JWTSecret == "" {
		return ErrMissingJWT
	}
	return nil
}

// RedisEnabled reports whether a Redis URL was configured.
func (c Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}
