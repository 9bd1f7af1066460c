package outbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for outbound dispatch failures. Callers match with errors.Is.
var (
	// ErrQueueOverflow: the service queue is at capacity; the request was
	// rejected without being enqueued.
	ErrQueueOverflow = errors.New("outbound queue overflow")

	// ErrQueueTimeout: the request waited in the queue longer than the
	// configured queue timeout.
	ErrQueueTimeout = errors.New("outbound queue timeout")

	// ErrRateLimitExceeded: the burst window is exhausted and the service is
	// configured to reject rather than block.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen: the service circuit breaker is open; the request failed
	// fast without reaching the wire.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrClientClosed: the outbound client is shutting down.
	ErrClientClosed = errors.New("outbound client closed")

	// ErrUnknownService: no queue is configured for the requested service.
	ErrUnknownService = errors.New("unknown outbound service")
)

// RequestError carries the HTTP detail of a failed attempt so the retry loop
// can decide on retryability and honor Retry-After. Transport-level failures
// have Status 0.
type RequestError struct {
	Service string
	Status  int
	Header  http.Header
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError wraps an HTTP failure with its status and headers.
func NewRequestError(service string, status int, header http.Header, err error) *RequestError {
	return &RequestError{Service: service, Status: status, Header: header, Err: err}
}

// RetryableStatus reports whether an HTTP status warrants a retry.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// retryableError reports whether the attempt may be retried. Only HTTP 429,
// 500 and 503 qualify; everything else, including transport errors and
// cancellations, propagates immediately.
func retryableError(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return RetryableStatus(reqErr.Status)
	}
	return false
}

// isCancellation reports whether the error is a caller-side abort rather than
// a service failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
