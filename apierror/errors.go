// Package apierror classifies backend failures and produces user-facing diagnoses.
//
// Information Hiding:
// - SDK-specific error shapes are normalized into *Error by the adapters
// - JSON error bodies (possibly nested) are unwrapped here
// - Auth- and tier-specific rate limit copy lives in one place

package apierror

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	ErrBackendTimeout        = errors.New("backend timeout")
	ErrRateLimited           = errors.New("backend rate limited")
	ErrQuotaExceeded         = errors.New("backend quota exceeded")
	ErrMalformedResponse     = errors.New("malformed backend response")
	ErrTokenCountUnavailable = errors.New("token count unavailable")
	ErrCompressionFailed     = errors.New("compression failed")
	ErrUnknownModel          = errors.New("unknown model")
	ErrUnsupported           = errors.New("operation not supported by backend")
	ErrBusy                  = errors.New("a message is already being processed")
)

// Error is a backend failure carrying an HTTP status.
// Adapters build it from the SDK-specific error types.
type Error struct {
	Backend string
	Status  int
	Code    string // provider error code, e.g. "insufficient_quota"
	Type    string // provider error type, e.g. "requests"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying SDK error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers match rate limit failures with errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == 429
	case ErrQuotaExceeded:
		return e.Status == 429 && quotaKindOf(e.Message, e.Code) != QuotaNone
	}
	return false
}

// StatusOf extracts the HTTP status from err, or 0 if none is known.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
