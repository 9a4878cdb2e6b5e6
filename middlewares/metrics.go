package middlewares

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/filevault/internal/web"
)

// HTTPObserver records one finished request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Metrics reports every request by its route pattern, so ids in paths do
// not blow up label cardinality. Errors are counted with the status the
// error handler will render.
func Metrics(obs HTTPObserver, statusOf func(error) int) web.Middleware {
	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) error {
			start := time.Now()
			err := next(c)

			status := c.ResponseWriter().Status()
			if err != nil && !c.Written() && statusOf != nil {
				status = statusOf(err)
			}
			route := "unmatched"
			if rctx := chi.RouteContext(c.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			obs.ObserveHTTP(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
