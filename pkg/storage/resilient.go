package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Observer receives the outcome of every attempt made by Resilient.
type Observer func(op string, d time.Duration, err error)

// ResilientOption configures a Resilient store.
type ResilientOption func(*Resilient)

// WithAttemptTimeout bounds each attempt. Default: 30s.
func WithAttemptTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetries sets how many retries follow the first attempt. Default: 3.
func WithRetries(n uint64) ResilientOption {
	return func(r *Resilient) {
		r.retries = n
	}
}

// WithRetryBase sets the initial backoff. Default: 200ms.
func WithRetryBase(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.base = d
		}
	}
}

// WithObserver registers an attempt observer, typically a metrics recorder.
func WithObserver(fn Observer) ResilientOption {
	return func(r *Resilient) {
		r.observe = fn
	}
}

// WithResilientLogger sets the logger used for retry warnings.
func WithResilientLogger(l *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resilient wraps a Storage with a timeout per attempt and bounded
// exponential retry for transient errors. Exhausted retries surface as
// ErrUnavailable joined with the last cause.
type Resilient struct {
	next    Storage
	logger  *slog.Logger
	observe Observer
	timeout time.Duration
	base    time.Duration
	retries uint64
}

// NewResilient decorates next.
func NewResilient(next Storage, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:    next,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 30 * time.Second,
		base:    200 * time.Millisecond,
		retries: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Put retries transient failures. Non-seekable bodies are buffered once so
// every attempt sends the full payload.
func (r *Resilient) Put(ctx context.Context, body io.Reader, size int64, opts ...Option) (*FileInfo, error) {
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, errors.Join(ErrUploadFailed, err)
		}
		rs = bytes.NewReader(data)
	}

	var info *FileInfo
	err := r.do(ctx, "put", func(ctx context.Context) error {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return errors.Join(ErrUploadFailed, err)
		}
		var err error
		info, err = r.next.Put(ctx, rs, size, opts...)
		return err
	})
	return info, err
}

func (r *Resilient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	// The body outlives the attempt, so Get is not bounded by the attempt timeout.
	err := r.doWithTimeout(ctx, "get", 0, func(ctx context.Context) error {
		var err error
		rc, err = r.next.Get(ctx, key)
		return err
	})
	return rc, err
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

func (r *Resilient) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = r.next.Exists(ctx, key)
		return err
	})
	return exists, err
}

func (r *Resilient) URL(ctx context.Context, key string, opts ...URLOption) (string, error) {
	var u string
	err := r.do(ctx, "presign", func(ctx context.Context) error {
		var err error
		u, err = r.next.URL(ctx, key, opts...)
		return err
	})
	return u, err
}

func (r *Resilient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return r.doWithTimeout(ctx, op, r.timeout, fn)
}

func (r *Resilient) doWithTimeout(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	backoff := retry.WithJitterPercent(20, retry.WithMaxRetries(r.retries, retry.NewExponential(r.base)))

	attempt := 0
	var last error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		err := fn(attemptCtx)
		if r.observe != nil {
			r.observe(op, time.Since(start), err)
		}
		if err == nil {
			return nil
		}
		last = err

		// Caller cancellation ends the loop; an expired attempt deadline is retried.
		if ctx.Err() != nil || !IsTransient(err) {
			return err
		}
		r.logger.WarnContext(ctx, "blob operation failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && last != nil {
		return errors.Join(ErrUnavailable, last)
	}
	if IsTransient(err) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

var _ Storage = (*Resilient)(nil)
