package monzo

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth matches credential failures: rejected, expired or missing tokens.
	ErrAuth        = errors.New("credential rejected")
	ErrRateLimited = errors.New("rate limited")
	// ErrTransport matches network failures, unexpected statuses and
	// malformed payloads.
	ErrTransport    = errors.New("transport failure")
	ErrInvalidQuery = errors.New("invalid transactions query")
)

type AuthError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth failed: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("auth failed: http %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth failed: http %d", e.StatusCode)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type RateLimitError struct {
	RetryAfter time.Duration
	Code       string
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrTransport
}

type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PayloadError reports a 2xx response whose body does not have the expected
// shape.
type PayloadError struct {
	Path string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("unexpected payload from %s: %v", e.Path, e.Err)
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrTransport
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
