package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/db"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

// errorBody is the failure envelope.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Success bool   `json:"success"`
}

// problem is the rendered form of an error.
type problem struct {
	message string
	code    string
	status  int
	// internal errors are logged at error level.
	internal bool
}

func describe(err error) problem {
	if herr := web.AsHTTPError(err); herr != nil {
		p := problem{status: herr.StatusCode(), code: herr.ErrorCode, message: herr.Message}
		if p.code == "" {
			p.code = "http_error"
		}
		if p.message == "" {
			p.message = http.StatusText(p.status)
		}
		// Oversized request bodies surface from the decoder.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return problem{status: http.StatusRequestEntityTooLarge, code: "request_too_large", message: "Request body is too large"}
		}
		return p
	}
	if kind, msg, ok := core.Describe(err); ok {
		return problem{
			status:   kind.Status(),
			code:     kind.Code(),
			message:  msg,
			internal: kind == core.ErrInvariantViolation,
		}
	}

	switch {
	case middlewares.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		return problem{status: http.StatusServiceUnavailable, code: "timeout", message: "The request took too long, try again"}
	case errors.Is(err, storage.ErrUnavailable):
		return problem{status: core.ErrBlobStoreUnavailable.Status(), code: core.ErrBlobStoreUnavailable.Code(), message: core.ErrBlobStoreUnavailable.Error()}
	case db.IsUnavailable(err):
		return problem{status: core.ErrUnavailable.Status(), code: core.ErrUnavailable.Code(), message: core.ErrUnavailable.Error()}
	}
	return problem{status: http.StatusInternalServerError, code: "internal", message: "Something went wrong", internal: true}
}

// StatusOf is the HTTP status err renders with.
func StatusOf(err error) int {
	return describe(err).status
}

// ErrorHandler renders errors in the JSON failure envelope. Taxonomy
// errors keep their specific message; everything else is generic.
func ErrorHandler() web.ErrorHandler {
	return func(c web.Context, err error) error {
		p := describe(err)
		switch {
		case p.internal:
			c.LogError("request failed", slog.Any("error", err), slog.Int("status", p.status))
		case p.status >= http.StatusInternalServerError:
			c.LogWarn("request failed", slog.Any("error", err), slog.Int("status", p.status))
		}
		return c.JSON(p.status, errorBody{Error: p.message, Code: p.code})
	}
}

// NotFound renders unknown routes in the failure envelope.
func NotFound(c web.Context) error {
	return web.ErrNotFound("Route not found")
}

// MethodNotAllowed renders wrong-method requests in the failure envelope.
func MethodNotAllowed(c web.Context) error {
	return web.ErrMethodNotAllowed("Method not allowed")
}
