package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a taxonomy entry: a stable code, the HTTP status it maps to and
// the default message shown to users.
type Error struct {
	code    string
	message string
	status  int
}

func (e *Error) Error() string { return e.message }
func (e *Error) Code() string  { return e.code }
func (e *Error) Status() int   { return e.status }

func kind(code string, status int, message string) *Error {
	return &Error{code: code, status: status, message: message}
}

var (
	ErrQuotaExceeded        = kind("quota_exceeded", http.StatusRequestEntityTooLarge, "Storage limit exceeded")
	ErrFileTooLarge         = kind("file_too_large", http.StatusRequestEntityTooLarge, "File size must be under 100MB")
	ErrDuplicateName        = kind("duplicate_name", http.StatusConflict, "A folder with this name already exists here")
	ErrFolderNotEmpty       = kind("folder_not_empty", http.StatusConflict, "Folder is not empty")
	ErrNotFound             = kind("not_found", http.StatusNotFound, "Not found")
	ErrExpired              = kind("link_expired", http.StatusGone, "This share link has expired")
	ErrRevoked              = kind("link_revoked", http.StatusGone, "This share link has been revoked")
	ErrBlobStoreUnavailable = kind("storage_unavailable", http.StatusServiceUnavailable, "Storage is temporarily unavailable, try again")
	ErrUnavailable          = kind("unavailable", http.StatusServiceUnavailable, "Service is temporarily unavailable, try again")
	ErrValidation           = kind("invalid_input", http.StatusUnprocessableEntity, "Invalid input")
	ErrNoPlan               = kind("no_plan", http.StatusPaymentRequired, "No storage plan is available for this account")
	ErrUnauthorized         = kind("unauthorized", http.StatusUnauthorized, "Authentication required")
	// ErrInvariantViolation is logged and counted, never shown to users.
	ErrInvariantViolation = kind("internal", http.StatusInternalServerError, "Something went wrong")
)

// detailed narrows a taxonomy entry with a specific message and optional cause.
type detailed struct {
	kind    *Error
	cause   error
	message string
}

func (e *detailed) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *detailed) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// NotFound names the missing resource: NotFound("Folder") reads
// "Folder not found" and matches ErrNotFound.
func NotFound(resource string) error {
	return &detailed{kind: ErrNotFound, message: resource + " not found"}
}

// Invalid reports a validation failure with a user-facing message.
func Invalid(format string, args ...any) error {
	return &detailed{kind: ErrValidation, message: fmt.Sprintf(format, args...)}
}

// WithMessage attaches a specific message to a taxonomy entry.
func WithMessage(kind *Error, message string) error {
	return &detailed{kind: kind, message: message}
}

// Unavailable marks an infrastructure failure as retryable by the caller.
func Unavailable(kind *Error, cause error) error {
	return &detailed{kind: kind, message: kind.message, cause: cause}
}

// Describe returns the taxonomy entry and user-facing message carried by
// err. ok is false for errors outside the taxonomy.
func Describe(err error) (kind *Error, message string, ok bool) {
	var d *detailed
	if errors.As(err, &d) {
		return d.kind, d.message, true
	}
	if errors.As(err, &kind) {
		return kind, kind.message, true
	}
	return nil, "", false
}
