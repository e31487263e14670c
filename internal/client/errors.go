package client

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable reports a failed health probe. It carries no request
// context because the probe must leave no upload-side effects behind.
var ErrServiceUnavailable = errors.New("analysis service unavailable")

// ValidationError rejects a submission before any I/O happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ServerError is a response the service did send: non-2xx status plus the
// structured detail body it attached.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server rejected request (status %d)", e.Status)
	}
	return fmt.Sprintf("server rejected request (status %d): %s", e.Status, e.Detail)
}

// NetworkError means no response was received at all; the remote job may
// still be running, which callers surface differently from a rejection.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("no response from service during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transport-class failure that an
// idempotent read may retry. Server rejections are never retried.
func Retryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
