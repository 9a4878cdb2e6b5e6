package middlewares

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/dmitrymomot/filevault/internal/web"
)

const DefaultTimeout = 30 * time.Second

// Timeout bounds the handler with a deadline carried by the request
// context. When the deadline passes first a TimeoutError is returned; the
// handler keeps running until it notices the cancelled context.
func Timeout(timeout time.Duration) web.Middleware {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) error {
			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			sub := web.NewContext(c.Response(), c.Request().WithContext(ctx), c.Logger())

			done := make(chan error, 1)
			go func() {
				// A panic here would escape Recover, which runs on the caller's goroutine.
				defer func() {
					if r := recover(); r != nil {
						stack := make([]byte, DefaultStackSize)
						done <- &PanicError{Value: r, Stack: stack[:runtime.Stack(stack, false)]}
					}
				}()
				done <- next(sub)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					c.LogWarn("request timeout", "timeout", timeout.String())
					return &TimeoutError{Duration: timeout}
				}
				return ctx.Err()
			}
		}
	}
}
