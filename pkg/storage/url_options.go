package storage

import (
	"fmt"
	"time"
)

// URLOption configures URL generation.
type URLOption func(*urlOptions)

type urlOptions struct {
	filename string
	inline   bool
	expiry   time.Duration
}

func newURLOptions(opts ...URLOption) *urlOptions {
	o := &urlOptions{expiry: DefaultURLExpiry}
	for _, opt := range opts {
		opt(o)
	}
	o.expiry = ClampExpiry(o.expiry)
	return o
}

// disposition returns the Content-Disposition the URL should force, or "".
func (o *urlOptions) disposition() string {
	switch {
	case o.filename == "":
		return ""
	case o.inline:
		return fmt.Sprintf("inline; filename=%q", o.filename)
	default:
		return fmt.Sprintf("attachment; filename=%q", o.filename)
	}
}

// WithSigned sets the lifetime of the signed URL.
// Values outside (0, MaxSignedURLExpiry] are clamped.
func WithSigned(expiry time.Duration) URLOption {
	return func(o *urlOptions) {
		o.expiry = expiry
	}
}

// WithDownload forces Content-Disposition: attachment with the given filename.
func WithDownload(filename string) URLOption {
	return func(o *urlOptions) {
		o.filename = filename
		o.inline = false
	}
}

// WithInline requests Content-Disposition: inline for in-browser preview.
func WithInline(filename string) URLOption {
	return func(o *urlOptions) {
		o.filename = filename
		o.inline = true
	}
}

// ClampExpiry bounds d to (0, MaxSignedURLExpiry]. Non-positive values
// fall back to DefaultURLExpiry.
func ClampExpiry(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultURLExpiry
	case d > MaxSignedURLExpiry:
		return MaxSignedURLExpiry
	}
	return d
}
