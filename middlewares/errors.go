package middlewares

import (
	"errors"
	"fmt"
	"time"
)

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	// Stack is nil when stack capture is disabled.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// TimeoutError is returned when a request outlives its deadline.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %s", e.Duration)
}

func IsPanicError(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
