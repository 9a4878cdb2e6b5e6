package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/pkg/health"
)

func TestLive(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.Live()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	tests := []struct {
		name   string
		checks health.Checks
		code   int
		want   map[string]string
	}{
		{"no checks", nil, http.StatusOK, nil},
		{"all pass", health.Checks{"db": ok, "storage": ok}, http.StatusOK, map[string]string{"db": "healthy", "storage": "healthy"}},
		{"one fails", health.Checks{"db": ok, "redis": down}, http.StatusServiceUnavailable, map[string]string{"db": "healthy", "redis": "connection refused"}},
		{"timeout", health.Checks{"db": slow}, http.StatusServiceUnavailable, map[string]string{"db": context.DeadlineExceeded.Error()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			health.Ready(tt.checks, 50*time.Millisecond, nil)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			var res health.Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, tt.want, res.Checks)
		})
	}
}
