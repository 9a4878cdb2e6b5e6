package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	applog "github.com/dmitrymomot/filevault/pkg/logger"
)

// Context gives handlers access to the request and response. It is also a
// context.Context delegating to the request context.
type Context interface {
	context.Context

	Request() *http.Request
	Response() http.ResponseWriter

	// Context returns the request's context.Context.
	Context() context.Context

	// Param returns a URL parameter, or "" when absent.
	Param(name string) string

	// Query returns a query parameter, or "" when absent.
	Query(name string) string

	// QueryDefault returns a query parameter or def when it is empty.
	QueryDefault(name, def string) string

	// Form returns a form value, parsing the body on first access.
	Form(name string) string

	// FormFile returns the first file for the form key.
	FormFile(name string) (multipart.File, *multipart.FileHeader, error)

	Header(name string) string
	SetHeader(name, value string)

	// JSON writes v with the status code.
	JSON(code int, v any) error

	// NoContent writes only the status code.
	NoContent(code int) error

	// Redirect answers with a Location header.
	Redirect(code int, url string) error

	// Error builds an HTTPError to be returned from the handler.
	Error(code int, message string, opts ...HTTPErrorOption) *HTTPError

	// BindJSON decodes the request body into v. Unknown fields are rejected.
	BindJSON(v any) error

	// Written reports whether the response was started.
	Written() bool

	// ResponseWriter exposes status and size of the response.
	ResponseWriter() *ResponseWriter

	Logger() *slog.Logger
	LogInfo(msg string, attrs ...any)
	LogWarn(msg string, attrs ...any)
	LogError(msg string, attrs ...any)

	// Set stores a value in the request context.
	Set(key, value any)

	// Get reads a value from the request context.
	Get(key any) any
}

type requestContext struct {
	request  *http.Request
	response *ResponseWriter
	logger   *slog.Logger
}

func newContext(w http.ResponseWriter, r *http.Request, logger *slog.Logger) *requestContext {
	return &requestContext{
		request:  r,
		response: NewResponseWriter(w),
		logger:   logger,
	}
}

// NewContext builds a Context outside of a router, which is how middleware
// and handlers are exercised in tests.
func NewContext(w http.ResponseWriter, r *http.Request, logger *slog.Logger) Context {
	if logger == nil {
		logger = applog.Discard()
	}
	return newContext(w, r, logger)
}

func (c *requestContext) Request() *http.Request { return c.request }

func (c *requestContext) Response() http.ResponseWriter { return c.response }

func (c *requestContext) Context() context.Context { return c.request.Context() }

func (c *requestContext) Deadline() (time.Time, bool) { return c.request.Context().Deadline() }

func (c *requestContext) Done() <-chan struct{} { return c.request.Context().Done() }

func (c *requestContext) Err() error { return c.request.Context().Err() }

func (c *requestContext) Value(key any) any { return c.request.Context().Value(key) }

func (c *requestContext) Param(name string) string {
	return chi.URLParam(c.request, name)
}

func (c *requestContext) Query(name string) string {
	return c.request.URL.Query().Get(name)
}

func (c *requestContext) QueryDefault(name, def string) string {
	if v := c.request.URL.Query().Get(name); v != "" {
		return v
	}
	return def
}

func (c *requestContext) Form(name string) string {
	return c.request.FormValue(name)
}

func (c *requestContext) FormFile(name string) (multipart.File, *multipart.FileHeader, error) {
	return c.request.FormFile(name)
}

func (c *requestContext) Header(name string) string {
	return c.request.Header.Get(name)
}

func (c *requestContext) SetHeader(name, value string) {
	c.response.Header().Set(name, value)
}

func (c *requestContext) JSON(code int, v any) error {
	c.response.Header().Set("Content-Type", "application/json; charset=utf-8")
	c.response.WriteHeader(code)
	return json.NewEncoder(c.response).Encode(v)
}

func (c *requestContext) NoContent(code int) error {
	c.response.WriteHeader(code)
	return nil
}

func (c *requestContext) Redirect(code int, url string) error {
	http.Redirect(c.response, c.request, url, code)
	return nil
}

func (c *requestContext) Error(code int, message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(code, message, opts...)
}

func (c *requestContext) BindJSON(v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(c.response, c.request.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ErrBadRequest("Malformed JSON body", WithError(err))
	}
	return nil
}

func (c *requestContext) Written() bool { return c.response.Written() }

func (c *requestContext) ResponseWriter() *ResponseWriter { return c.response }

func (c *requestContext) Logger() *slog.Logger { return c.logger }

func (c *requestContext) LogInfo(msg string, attrs ...any) {
	c.logger.InfoContext(c.request.Context(), msg, attrs...)
}

func (c *requestContext) LogWarn(msg string, attrs ...any) {
	c.logger.WarnContext(c.request.Context(), msg, attrs...)
}

func (c *requestContext) LogError(msg string, attrs ...any) {
	c.logger.ErrorContext(c.request.Context(), msg, attrs...)
}

func (c *requestContext) Set(key, value any) {
	c.request = c.request.WithContext(context.WithValue(c.request.Context(), key, value))
}

func (c *requestContext) Get(key any) any {
	return c.request.Context().Value(key)
}
