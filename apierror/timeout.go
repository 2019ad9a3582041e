package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// timeoutIndicators are matched case-insensitively against the error
// message, the provider error code and the provider error type.
var timeoutIndicators = []string{
	"timeout",
	"timed out",
	"etimedout",
	"esockettimedout",
	"deadline exceeded",
	"econnaborted",
	"request_timeout",
}

// TimeoutError is a backend timeout annotated with remediation steps.
type TimeoutError struct {
	Backend string
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Backend)
	sb.WriteString(" request timed out")
	if e.Timeout > 0 {
		fmt.Fprintf(&sb, " after %s", e.Timeout)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	sb.WriteString("\n")
	sb.WriteString(TimeoutRemediation)
	return sb.String()
}

// Unwrap returns the original error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is matches ErrBackendTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrBackendTimeout
}

// TimeoutRemediation is appended to every classified timeout.
const TimeoutRemediation = `Troubleshooting:
  - Reduce the input size (shorter prompt, fewer attached files, or run /compress)
  - Raise the request timeout (LLM_TIMEOUT_SECS)
  - Check network connectivity to the backend
  - Prefer streaming for long outputs`

// IsTimeout reports whether err looks like a backend timeout.
// Caller cancellation is never a timeout.
func IsTimeout(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBackendTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	candidates := []string{err.Error()}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == 408 || apiErr.Status == 504 {
			return true
		}
		candidates = append(candidates, apiErr.Code, apiErr.Type)
	}

	for _, c := range candidates {
		lower := strings.ToLower(c)
		for _, indicator := range timeoutIndicators {
			if strings.Contains(lower, indicator) {
				return true
			}
		}
	}
	return false
}

// ClassifyTimeout wraps err in a TimeoutError when it is a timeout, and
// returns err unchanged otherwise.
func ClassifyTimeout(backend string, timeout time.Duration, err error) error {
	if !IsTimeout(err) {
		return err
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	return &TimeoutError{Backend: backend, Timeout: timeout, Err: err}
}
