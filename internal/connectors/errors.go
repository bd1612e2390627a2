package connectors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrRunNotFound    = errors.New("run not found")
)

// ThrottleError: бэкенд попросил подождать. Повтора нет, но причина сохраняется для аудита.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}
