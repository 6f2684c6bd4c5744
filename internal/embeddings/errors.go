package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrProvider is the kind shared by every embedding failure.
	ErrProvider = errors.New("embedding provider error")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// configured dimension. It is a configuration error and is never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMalformedResponse indicates the provider answered with output that
	// does not line up with the request.
	ErrMalformedResponse = errors.New("malformed embedding response")

	// ErrRateLimited indicates the provider or the local limiter refused the call.
	ErrRateLimited = errors.New("embedding provider rate limited")
)

// ProviderError describes a failed embedding call.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes every ProviderError match ErrProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Retryable reports whether the same call may succeed later.
func (e *ProviderError) Retryable() bool {
	switch {
	case errors.Is(e.Err, ErrDimensionMismatch),
		errors.Is(e.Err, ErrEmptyInput),
		errors.Is(e.Err, ErrInvalidConfig),
		errors.Is(e.Err, context.Canceled):
		return false
	case errors.Is(e.Err, ErrRateLimited),
		errors.Is(e.Err, context.DeadlineExceeded):
		return true
	}
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode >= 400 {
		return false
	}
	return isTransient(e.Err)
}

// IsRetryable reports whether err is a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

func newProviderError(provider, op string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// isTransient classifies errors from SDKs that only expose a message.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504",
		"connection refused", "connection reset", "timeout", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
