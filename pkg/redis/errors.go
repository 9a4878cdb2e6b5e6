package redis

import "errors"

// Connection errors wrap the go-redis cause with errors.Join. Redis only
// backs the plan cache: it is skipped entirely when REDIS_URL is unset,
// and once configured an unreachable server fails startup and readiness.
var (
	// ErrEmptyConnectionURL means REDIS_URL is unset.
	ErrEmptyConnectionURL = errors.New("redis: REDIS_URL is empty")
	// ErrFailedToParseURL means REDIS_URL is not a redis:// or rediss:// URL.
	ErrFailedToParseURL = errors.New("redis: invalid REDIS_URL")
	// ErrConnectionFailed means every connection attempt failed to ping.
	ErrConnectionFailed = errors.New("redis: server unreachable")
	// ErrHealthcheckFailed is returned by the readiness check.
	ErrHealthcheckFailed = errors.New("redis: ping failed")
)
