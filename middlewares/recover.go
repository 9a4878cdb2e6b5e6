package middlewares

import (
	"runtime"

	"github.com/dmitrymomot/filevault/internal/web"
)

// DefaultStackSize caps the captured stack trace.
const DefaultStackSize = 4096

type RecoverConfig struct {
	StackSize         int
	DisablePrintStack bool
}

type RecoverOption func(*RecoverConfig)

func WithRecoverStackSize(size int) RecoverOption {
	return func(cfg *RecoverConfig) {
		if size > 0 {
			cfg.StackSize = size
		}
	}
}

func WithRecoverDisablePrintStack() RecoverOption {
	return func(cfg *RecoverConfig) {
		cfg.DisablePrintStack = true
	}
}

// Recover turns a panic into a PanicError for the error handler and logs
// it with the stack.
func Recover(opts ...RecoverOption) web.Middleware {
	cfg := &RecoverConfig{StackSize: DefaultStackSize}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(c web.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack []byte
				if !cfg.DisablePrintStack {
					stack = make([]byte, cfg.StackSize)
					stack = stack[:runtime.Stack(stack, false)]
					c.LogError("panic recovered", "panic", r, "stack", string(stack))
				} else {
					c.LogError("panic recovered", "panic", r)
				}
				err = &PanicError{Value: r, Stack: stack}
			}()
			return next(c)
		}
	}
}
