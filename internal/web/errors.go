package web

import (
	"errors"
	"net/http"
)

// HTTPError is an error with everything needed to render it.
type HTTPError struct {
	// Err is the underlying cause. It is logged, never shown.
	Err error

	// Message is the user-facing text.
	Message string

	// ErrorCode is a stable machine-readable code.
	ErrorCode string

	// Code is the HTTP status.
	Code int
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func (e *HTTPError) StatusCode() int {
	return e.Code
}

type HTTPErrorOption func(*HTTPError)

func NewHTTPError(code int, message string, opts ...HTTPErrorOption) *HTTPError {
	e := &HTTPError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithErrorCode(code string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.ErrorCode = code
	}
}

func WithError(err error) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Err = err
	}
}

func ErrBadRequest(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message, append([]HTTPErrorOption{WithErrorCode("bad_request")}, opts...)...)
}

func ErrUnauthorized(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusUnauthorized, message, append([]HTTPErrorOption{WithErrorCode("unauthorized")}, opts...)...)
}

func ErrNotFound(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusNotFound, message, append([]HTTPErrorOption{WithErrorCode("not_found")}, opts...)...)
}

func ErrMethodNotAllowed(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusMethodNotAllowed, message, append([]HTTPErrorOption{WithErrorCode("method_not_allowed")}, opts...)...)
}

func ErrInternal(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusInternalServerError, message, append([]HTTPErrorOption{WithErrorCode("internal")}, opts...)...)
}

func ErrServiceUnavailable(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusServiceUnavailable, message, append([]HTTPErrorOption{WithErrorCode("unavailable")}, opts...)...)
}

// AsHTTPError finds an HTTPError in err's chain. Returns nil otherwise.
func AsHTTPError(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	return nil
}
