// Package httperr defines the closed error taxonomy for the request
// governance core and its mapping to HTTP responses. Rejection bodies stay
// minimal so internal detail never leaks to callers.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeUnauthenticated     Code = "unauthenticated"
	CodeTenantNotFound      Code = "tenant_not_found"
	CodeForbidden           Code = "forbidden"
	CodeRateLimited         Code = "rate_limited"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeInvalidJobKind      Code = "invalid_job_kind"
	CodeHandlerFailure      Code = "handler_failure"
)

// Error is a typed rejection. RetryAfter is set only for rate limits.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the taxonomy to response codes.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeTenantNotFound, CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a job failure with this error should be
// re-queued. Unknown job kinds are terminal immediately.
func (e *Error) Retryable() bool {
	return e.Code != CodeInvalidJobKind
}

func Unauthenticated(msg string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

func TenantNotFound(msg string) *Error {
	return &Error{Code: CodeTenantNotFound, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded, please try again later",
		RetryAfter: retryAfter,
	}
}

func UpstreamUnavailable(msg string, cause error) *Error {
	return &Error{Code: CodeUpstreamUnavailable, Message: msg, cause: cause}
}

func InvalidJobKind(kind string) *Error {
	return &Error{Code: CodeInvalidJobKind, Message: "unknown job kind: " + kind}
}

func HandlerFailure(cause error) *Error {
	return &Error{Code: CodeHandlerFailure, Message: "job handler failed", cause: cause}
}

// From extracts a typed error, wrapping anything else as an internal failure.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeHandlerFailure, Message: "internal error", cause: err}
}

// Write renders the rejection as a JSON response. Rate limits get a
// Retry-After header alongside the body hint.
func Write(w http.ResponseWriter, err error) {
	e := From(err)

	body := map[string]any{"error": e.Message}
	if e.Code == CodeRateLimited {
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		body["retryAfter"] = secs
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	json.NewEncoder(w).Encode(body)
}
