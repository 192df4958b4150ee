package scraper

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMalformedRecord marks a raw record that cannot become a canonical
// Listing (undecodable body or missing property_id). Such records are
// skipped and counted, never fatal for the batch.
var ErrMalformedRecord = errors.New("malformed record")

type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureRateLimit FailureKind = "rate_limit"
	FailureAuth      FailureKind = "auth"
	FailureMalformed FailureKind = "malformed_request"
)

// APIError classifies one failed request against the listings API.
// RetryAfter carries the server's pause hint on rate limiting, zero
// otherwise.
type APIError struct {
	StatusCode int
	Kind       FailureKind
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s: %v", e.Kind, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("api %s: status %d: %s", e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api %s: status %d", e.Kind, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt can sensibly be made.
func (e *APIError) Retryable() bool {
	return e.Kind == FailureTransient || e.Kind == FailureRateLimit
}

// Fatal reports whether the failure dooms every later request in the
// run (bad credentials, malformed request shape).
func (e *APIError) Fatal() bool {
	return e.Kind == FailureAuth || e.Kind == FailureMalformed
}

func classifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FailureAuth
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return FailureMalformed
	case code == http.StatusTooManyRequests:
		return FailureRateLimit
	default:
		return FailureTransient
	}
}

// parseRetryAfter reads a Retry-After header value, either delay
// seconds or an HTTP date.
func parseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := time.ParseDuration(val + "s"); err == nil && secs > 0 {
		return secs
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
