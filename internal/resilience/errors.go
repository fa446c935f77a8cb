package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// StatusOverloaded is the non-standard status the Anthropic API returns when
// the model is temporarily overloaded.
const StatusOverloaded = 529

// Error kinds reported by ErrorKind. They appear in retry logs and batch
// outcomes.
const (
	KindTimeout     = "timeout"
	KindCanceled    = "canceled"
	KindRateLimited = "rate_limited"
	KindOverloaded  = "overloaded"
	KindTransient   = "transient"
	KindPermanent   = "permanent"
)

// TransientError marks a model-call failure that is safe to retry.
// StatusCode is zero for network failures.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the upstream rejected the call with 429.
func (e *TransientError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// NewTransientError wraps err as retryable with the upstream status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is a TransientError or a network failure
// on the way to the model: a timeout, a dropped connection, or a response
// body cut short.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsTransientHTTPStatus reports whether an Anthropic API status is worth
// retrying: request timeout, rate limit, server errors and overload.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		StatusOverloaded:
		return true
	default:
		return false
	}
}

// ErrorKind categorizes an error for logs. Timeouts, rate limits and
// overload are reported separately from other transient failures.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var te *TransientError
	if errors.As(err, &te) {
		switch {
		case te.RateLimited():
			return KindRateLimited
		case te.StatusCode == StatusOverloaded:
			return KindOverloaded
		}
		return KindTransient
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindPermanent
}
