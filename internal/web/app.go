package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/filevault/pkg/health"
	"github.com/dmitrymomot/filevault/pkg/logger"
)

const (
	defaultLivenessPath  = "/health/live"
	defaultReadinessPath = "/health/ready"
	defaultHealthTimeout = 5 * time.Second
)

// App is the HTTP application. It is immutable once built by New.
type App struct {
	router                  chi.Router
	errorHandler            ErrorHandler
	notFoundHandler         HandlerFunc
	methodNotAllowedHandler HandlerFunc
	logger                  *slog.Logger
	readiness               health.Checks
	middlewares             []Middleware
	handlers                []Handler
	mounts                  []mount
}

type mount struct {
	handler http.Handler
	pattern string
}

// New builds the application: global middleware, mounts, health checks and
// then the routes of every handler, in that order.
func New(opts ...Option) *App {
	a := &App{
		router: chi.NewRouter(),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupRoutes()
	return a
}

// Router returns the underlying chi router.
func (a *App) Router() chi.Router {
	return a.router
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) setupRoutes() {
	for _, mw := range a.middlewares {
		a.router.Use(a.adaptMiddleware(mw))
	}
	if a.notFoundHandler != nil {
		a.router.NotFound(a.wrapHandler(a.notFoundHandler))
	}
	if a.methodNotAllowedHandler != nil {
		a.router.MethodNotAllowed(a.wrapHandler(a.methodNotAllowedHandler))
	}

	a.router.Get(defaultLivenessPath, health.Live())
	a.router.Get(defaultReadinessPath, health.Ready(a.readiness, defaultHealthTimeout, a.logger))

	for _, m := range a.mounts {
		a.router.Mount(m.pattern, m.handler)
	}

	r := &routerAdapter{router: a.router, app: a}
	for _, h := range a.handlers {
		h.Routes(r)
	}
}

func (a *App) wrapHandler(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := newContext(w, r, a.logger)
		if err := h(c); err != nil {
			a.handleError(c, err)
		}
	}
}

// handleError renders err unless the response already started.
func (a *App) handleError(c Context, err error) {
	if c.Written() {
		return
	}
	if a.errorHandler != nil {
		if herr := a.errorHandler(c, err); herr == nil {
			return
		}
	}
	http.Error(c.Response(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
