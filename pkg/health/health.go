// Package health serves liveness and readiness checks. Readiness runs every
// registered check concurrently under one timeout.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports a dependency failure as an error.
type CheckFunc func(ctx context.Context) error

// Checks maps a dependency name to its check.
type Checks map[string]CheckFunc

type Result struct {
	Checks map[string]string `json:"checks,omitempty"`
	Status string            `json:"status"`
}

// Run executes checks concurrently. A failing check never cancels the others.
func Run(ctx context.Context, checks Checks, timeout time.Duration, log *slog.Logger) Result {
	if len(checks) == 0 {
		return Result{Status: StatusHealthy}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		res = Result{Status: StatusHealthy, Checks: make(map[string]string, len(checks))}
		g   errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			status := StatusHealthy
			if err := check(ctx); err != nil {
				status = err.Error()
				if log != nil {
					log.WarnContext(ctx, "health check failed", slog.String("check", name), slog.Any("error", err))
				}
			}
			mu.Lock()
			res.Checks[name] = status
			if status != StatusHealthy {
				res.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// Live always answers 200.
func Live() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, Result{Status: StatusHealthy})
	}
}

// Ready answers 200 when every check passes and 503 otherwise.
func Ready(checks Checks, timeout time.Duration, log *slog.Logger) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		res := Run(r.Context(), checks, timeout, log)
		status := http.StatusOK
		if res.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		write(w, status, res)
	}
}

func write(w http.ResponseWriter, status int, v Result) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
