package middlewares

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/filevault/internal/web"
)

// DefaultCORSMaxAge is the default preflight cache duration.
const DefaultCORSMaxAge = 12 * time.Hour

type CORSConfig struct {
	// AllowOrigins lists allowed origins; "*" allows any.
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        time.Duration
}

type CORSOption func(*CORSConfig)

func WithAllowOrigins(origins ...string) CORSOption {
	return func(cfg *CORSConfig) {
		if len(origins) > 0 {
			cfg.AllowOrigins = origins
		}
	}
}

func WithAllowHeaders(headers ...string) CORSOption {
	return func(cfg *CORSConfig) {
		cfg.AllowHeaders = headers
	}
}

func WithExposeHeaders(headers ...string) CORSOption {
	return func(cfg *CORSConfig) {
		cfg.ExposeHeaders = headers
	}
}

func WithMaxAge(d time.Duration) CORSOption {
	return func(cfg *CORSConfig) {
		cfg.MaxAge = d
	}
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Bearer tokens travel in headers, so credentials are never
// allowed and a wildcard origin stays a literal "*".
func CORS(opts ...CORSOption) web.Middleware {
	cfg := &CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        DefaultCORSMaxAge,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))
	wildcard := slices.Contains(cfg.AllowOrigins, "*")

	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) error {
			origin := c.Header("Origin")
			if origin == "" || (!wildcard && !slices.Contains(cfg.AllowOrigins, origin)) {
				return next(c)
			}

			h := c.Response().Header()
			h.Add("Vary", "Origin")
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}

			if c.Request().Method != http.MethodOptions {
				return next(c)
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}
