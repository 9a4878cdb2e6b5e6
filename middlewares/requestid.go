package middlewares

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

type requestIDKey struct{}

// DefaultRequestIDHeaders are checked in order for an upstream request id.
var DefaultRequestIDHeaders = []string{"X-Request-ID", "X-Correlation-ID"}

type RequestIDConfig struct {
	Generator      func() string
	ResponseHeader string
	Headers        []string
}

type RequestIDOption func(*RequestIDConfig)

func WithRequestIDHeaders(headers ...string) RequestIDOption {
	return func(cfg *RequestIDConfig) {
		cfg.Headers = headers
	}
}

func WithRequestIDGenerator(gen func() string) RequestIDOption {
	return func(cfg *RequestIDConfig) {
		if gen != nil {
			cfg.Generator = gen
		}
	}
}

// RequestID keeps an upstream request id or generates a ULID, stores it in
// the request context and echoes it in X-Request-ID.
func RequestID(opts ...RequestIDOption) web.Middleware {
	cfg := &RequestIDConfig{
		Headers:        DefaultRequestIDHeaders,
		Generator:      id.NewULID,
		ResponseHeader: "X-Request-ID",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) error {
			var reqID string
			for _, header := range cfg.Headers {
				if v := c.Header(header); v != "" {
					reqID = v
					break
				}
			}
			if reqID == "" {
				reqID = cfg.Generator()
			}

			c.Set(requestIDKey{}, reqID)
			c.SetHeader(cfg.ResponseHeader, reqID)
			return next(c)
		}
	}
}

// GetRequestID returns the request id, or "" outside of RequestID.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// RequestIDExtractor adds request_id to log records.
func RequestIDExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if v := GetRequestID(ctx); v != "" {
			return slog.String("request_id", v), true
		}
		return slog.Attr{}, false
	}
}
