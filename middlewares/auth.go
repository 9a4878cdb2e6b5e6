package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

// Claims are the bearer token claims: the subject is the tenant id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type tenantKey struct{}

// Tenant is the authenticated caller.
type Tenant struct {
	ID    string
	Email string
}

type AuthConfig struct {
	Extractor web.Extractor
	Leeway    time.Duration
}

type AuthOption func(*AuthConfig)

// WithAuthExtractor replaces the default bearer header extractor.
func WithAuthExtractor(ext web.Extractor) AuthOption {
	return func(cfg *AuthConfig) {
		cfg.Extractor = ext
	}
}

func WithAuthLeeway(d time.Duration) AuthOption {
	return func(cfg *AuthConfig) {
		cfg.Leeway = d
	}
}

// Auth validates an HS256 bearer token signed with secret and stores the
// tenant in the request context. Any failure is a 401.
func Auth(secret []byte, opts ...AuthOption) web.Middleware {
	cfg := &AuthConfig{
		Extractor: web.NewExtractor(web.FromBearerToken()),
		Leeway:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) error {
			raw, ok := cfg.Extractor.Extract(c)
			if !ok {
				return web.ErrUnauthorized("Missing authentication token")
			}

			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return web.ErrUnauthorized("Authentication token expired", web.WithError(err))
				}
				return web.ErrUnauthorized("Invalid authentication token", web.WithError(err))
			}
			if claims.Subject == "" {
				return web.ErrUnauthorized("Invalid authentication token")
			}

			c.Set(tenantKey{}, Tenant{ID: claims.Subject, Email: claims.Email})
			return next(c)
		}
	}
}

// GetTenant returns the authenticated tenant; ok is false outside of Auth.
func GetTenant(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	return t, ok
}

// TenantID returns the authenticated tenant id, or "".
func TenantID(ctx context.Context) string {
	t, _ := GetTenant(ctx)
	return t.ID
}

// TenantExtractor adds tenant_id to log records.
func TenantExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := TenantID(ctx); id != "" {
			return slog.String("tenant_id", id), true
		}
		return slog.Attr{}, false
	}
}

// SignToken issues a token Auth accepts. It backs the dev token command and
// tests; production tokens come from the identity provider.
func SignToken(secret []byte, tenantID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
