package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"
)

var (
	ErrExhaustedRetries = errors.New("retries exhausted")
	ErrNonRetryable     = errors.New("non-retryable error")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
)

// HTTPStatusError reports an upstream response with an error status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

var retryableStatus = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

var retryableErrno = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
}

var retryableMessages = []string{"timeout", "network", "connection"}

// IsRetryable is the default retry predicate: transient network failures,
// retryable HTTP statuses, or a message naming a timeout or network problem.
// An open circuit is never retried. A joined error is retryable when any of
// its branches is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if branches := joined(err); branches != nil {
		return slices.ContainsFunc(branches, IsRetryable)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return slices.Contains(retryableStatus, statusErr.StatusCode)
	}

	for _, errno := range retryableErrno {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// joined follows single wraps down to the first multi-error and returns its
// branches, or nil when the chain has none.
func joined(err error) []error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if m, ok := e.(interface{ Unwrap() []error }); ok {
			return m.Unwrap()
		}
	}
	return nil
}
