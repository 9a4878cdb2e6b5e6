package web

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/filevault/pkg/health"
)

// Option configures an App.
type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMiddleware adds global middleware, run in the order given.
func WithMiddleware(mw ...Middleware) Option {
	return func(a *App) {
		a.middlewares = append(a.middlewares, mw...)
	}
}

func WithHandlers(h ...Handler) Option {
	return func(a *App) {
		a.handlers = append(a.handlers, h...)
	}
}

// WithMount attaches a plain http.Handler, such as the metrics endpoint.
func WithMount(pattern string, h http.Handler) Option {
	return func(a *App) {
		if pattern != "" && h != nil {
			a.mounts = append(a.mounts, mount{handler: h, pattern: pattern})
		}
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(a *App) {
		a.errorHandler = h
	}
}

func WithNotFoundHandler(h HandlerFunc) Option {
	return func(a *App) {
		a.notFoundHandler = h
	}
}

func WithMethodNotAllowedHandler(h HandlerFunc) Option {
	return func(a *App) {
		a.methodNotAllowedHandler = h
	}
}

// WithReadinessCheck adds a named check to /health/ready.
func WithReadinessCheck(name string, fn health.CheckFunc) Option {
	return func(a *App) {
		if fn == nil {
			return
		}
		if a.readiness == nil {
			a.readiness = health.Checks{}
		}
		a.readiness[name] = fn
	}
}
