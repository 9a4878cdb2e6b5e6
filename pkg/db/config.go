package db

import "time"

// Config holds PostgreSQL pool settings. Fields are populated from
// environment variables by the application config loader.
type Config struct {
	ConnectionString string `env:"DATABASE_URL,required"`
	MigrationsTable  string `env:"DATABASE_MIGRATIONS_TABLE" envDefault:"schema_migrations"`

	HealthCheckPeriod time.Duration `env:"DATABASE_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"DATABASE_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	// Lifetime cap lets the pool follow failovers behind PgBouncer.
	MaxConnLifetime time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"DATABASE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"DATABASE_RETRY_INTERVAL" envDefault:"2s"`

	MaxConns int32 `env:"DATABASE_MAX_CONNS" envDefault:"20"`
	MinConns int32 `env:"DATABASE_MIN_CONNS" envDefault:"2"`
}
