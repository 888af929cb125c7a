// Package apperr defines the error taxonomy shared by every stage of the
// workflow. Each error carries a machine-readable code and the HTTP status
// the transport layer should answer with.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind categorizes an application error.
type Kind int

const (
	// KindValidation indicates bad caller input.
	KindValidation Kind = iota
	// KindAPI indicates an upstream provider call failed.
	KindAPI
	// KindRateLimit indicates the caller exhausted its request window.
	KindRateLimit
	// KindNotFound indicates a referenced record does not exist.
	KindNotFound
	// KindTimeout indicates a long-running provider call exceeded its deadline.
	KindTimeout
	// KindInternal indicates an unclassified failure inside the service.
	KindInternal
)

// Cause tells whether an upstream failure was triggered by the request or by the provider.
type Cause string

const (
	CauseNone     Cause = ""
	CauseClient   Cause = "client"
	CauseProvider Cause = "provider"
)

// Wire codes returned to clients.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeAPI        = "API_ERROR"
	CodeRateLimit  = "RATE_LIMIT_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeTimeout    = "TIMEOUT"
	CodeInternal   = "INTERNAL_ERROR"
)

// Error is the concrete error type for all application failures.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Code    string
	Cause   Cause
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400 error for bad input.
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
	}
}

// API returns an upstream failure. status is the provider's HTTP status, or 0
// for transport failures. An error status is passed through, anything else
// becomes a 500. 4xx statuses are client-caused except 401, 403 and 429,
// which concern the server's own credentials or quota.
func API(provider string, status int, message string, err error) *Error {
	e := &Error{
		Kind:    KindAPI,
		Message: fmt.Sprintf("%s: %s", provider, message),
		Status:  http.StatusInternalServerError,
		Code:    CodeAPI,
		Cause:   CauseProvider,
		Err:     err,
		Details: map[string]any{"provider": provider},
	}
	if status >= 400 {
		e.Status = status
	}
	if status >= 400 && status < 500 {
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		default:
			e.Cause = CauseClient
		}
	}
	if status > 0 {
		e.Details["upstreamStatus"] = status
	}
	return e
}

// RateLimit returns a 429 error carrying the whole seconds until the window resets.
func RateLimit(retryAfter time.Duration) *Error {
	secs := RetryAfterSeconds(retryAfter)
	return &Error{
		Kind:    KindRateLimit,
		Message: "Rate limit exceeded. Try again later.",
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimit,
		Details: map[string]any{"retryAfter": secs},
	}
}

// NotFound returns a 404 error for a missing record.
func NotFound(format string, args ...any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
	}
}

// Timeout returns a 504 error for a provider call that ran past its deadline.
func Timeout(provider string, after time.Duration, err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("%s: generation timed out after %s", provider, after),
		Status:  http.StatusGatewayTimeout,
		Code:    CodeTimeout,
		Cause:   CauseProvider,
		Err:     err,
	}
}

// Stage prefixes err's message with a stage description ("Failed to
// enhance prompt") while keeping its kind, status, code and details.
// Errors outside the taxonomy become 500 internal errors.
func Stage(prefix string, err error) *Error {
	if e, ok := As(err); ok {
		staged := *e
		staged.Message = prefix + ": " + e.Message
		return &staged
	}
	return &Error{
		Kind:    KindInternal,
		Message: prefix,
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Err:     err,
	}
}

// RetryAfterSeconds rounds a wait duration up to whole seconds, never below zero.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the wire code for err, or "" when err is not an *Error.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// DetailsOf returns the details attached to err, if any.
func DetailsOf(err error) map[string]any {
	if e, ok := As(err); ok {
		return e.Details
	}
	return nil
}
