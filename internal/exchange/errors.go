package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an adapter failure. The subscription manager's retry
// policy branches on the kind, so adapters must never collapse failures into
// a generic error.
type ErrorKind int

const (
	// KindNetwork is a transient transport failure. Retryable.
	KindNetwork ErrorKind = iota
	// KindRateLimited means the venue throttled us. Retryable after a delay.
	KindRateLimited
	// KindUnauthorized is a credential failure. Terminal for the loop.
	KindUnauthorized
	// KindUnsupported means the adapter does not implement the capability.
	// A configuration error: fails fast at registration.
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error is a classified adapter failure. RetryAfter carries the venue's
// requested backoff when the venue provided one (rate limits only).
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange: %s", e.Kind)
	}
	return fmt.Sprintf("exchange: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError wraps a transient transport failure.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// RateLimitedError wraps a throttling response. retryAfter may be zero when
// the venue did not say how long to wait.
func RateLimitedError(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// UnauthorizedError wraps a credential failure.
func UnauthorizedError(err error) *Error {
	return &Error{Kind: KindUnauthorized, Err: err}
}

// UnsupportedError reports a capability the adapter does not implement.
func UnsupportedError(capability string) *Error {
	return &Error{Kind: KindUnsupported, Err: errors.New(capability + " not supported")}
}

// KindOf extracts the classification from err, defaulting to KindNetwork so
// unclassified failures are retried rather than tearing a loop down.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}

// IsRetryable reports whether the owning loop should retry locally.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterOf returns the venue-provided backoff, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
