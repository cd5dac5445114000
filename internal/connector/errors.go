package connector

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Sentinel errors for errors.Is checks at the boundary. Every error the
	// client returns wraps exactly one of these.
	ErrAuthFailed  = errors.New("upstream: authentication failed")
	ErrNotFound    = errors.New("upstream: resource not found")
	ErrRateLimited = errors.New("upstream: rate limited")
	ErrTimeout     = errors.New("upstream: request timed out")
	ErrNetwork     = errors.New("upstream: network failure")
	ErrServer      = errors.New("upstream: server error")

	// ErrUnsupported guards operations a variant cannot perform, such as
	// sweeping a Prowlarr health companion.
	ErrUnsupported = errors.New("upstream: operation not supported by this connector type")
)

// NetworkCause refines ErrNetwork for the reconnect supervisor and logs.
type NetworkCause string

const (
	CauseDNSFailure  NetworkCause = "dnsFailure"
	CauseConnRefused NetworkCause = "connRefused"
	CauseTLSFailure  NetworkCause = "tlsFailure"
	CauseUnknown     NetworkCause = "unknown"
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel   error
	Operation  string
	Status     int
	Message    string
	RetryAfter time.Duration // set for ErrRateLimited when the upstream sent Retry-After
	Cause      NetworkCause  // set for ErrNetwork
	Err        error         // nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("connector: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Cause)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// RetryAfterFrom extracts the upstream's Retry-After hint when err is a rate
// limit, reporting false otherwise.
func RetryAfterFrom(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && errors.Is(apiErr.Sentinel, ErrRateLimited) {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// NetworkCauseFrom extracts the transport failure cause, or CauseUnknown when
// err is not a network failure.
func NetworkCauseFrom(err error) NetworkCause {
	var apiErr *APIError
	if errors.As(err, &apiErr) && errors.Is(apiErr.Sentinel, ErrNetwork) {
		return apiErr.Cause
	}
	return CauseUnknown
}

// IsTransient reports whether the error class warrants a cooldown retry
// rather than terminal handling.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServer) || errors.Is(err, ErrNetwork)
}
