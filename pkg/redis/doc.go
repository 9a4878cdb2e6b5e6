// Package redis opens a go-redis client from environment configuration and
// exposes a readiness check. Both redis:// and rediss:// URLs are accepted.
package redis
