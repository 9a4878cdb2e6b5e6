package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Sentinel errors for storage operations.
var (
	ErrInvalidConfig = errors.New("storage: invalid configuration")
	ErrMissingKey    = errors.New("storage: key is required")
	ErrEmptyFile     = errors.New("storage: file is empty")

	ErrNotFound      = errors.New("storage: file not found")
	ErrAccessDenied  = errors.New("storage: access denied")
	ErrAlreadyExists = errors.New("storage: object already exists")
	ErrUploadFailed  = errors.New("storage: upload failed")
	ErrDeleteFailed  = errors.New("storage: delete failed")
	ErrPresignFailed = errors.New("storage: presign failed")
	ErrHeadFailed    = errors.New("storage: head failed")

	// ErrUnavailable is returned by Resilient once a transient failure
	// persisted through every retry.
	ErrUnavailable = errors.New("storage: blob store unavailable")
)

// wrapS3Error normalizes S3 errors to the sentinels above.
// The original error is formatted with %v so callers match sentinels, not AWS types.
func wrapS3Error(err error, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
	}

	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}

	return fmt.Errorf("%w: %v", fallback, err)
}

// IsTransient reports whether err is worth retrying.
// Missing objects, permission problems, conditional-write conflicts and
// caller cancellation are final.
func IsTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingKey),
		errors.Is(err, ErrEmptyFile),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
