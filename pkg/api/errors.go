package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the gateway's uniform failure taxonomy. Every failure that
// leaves the process carries exactly one kind.
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindUnsupportedProvider ErrorKind = "unsupported_provider"
	KindUnsupportedModel    ErrorKind = "unsupported_model"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamError       ErrorKind = "upstream_error"
	KindInternal            ErrorKind = "internal"
)

// Error is the normalized gateway error shape.
type Error struct {
	Kind ErrorKind
	// Safe message for the client
	Message string
	// Accepted model prefixes, set on unsupported-model failures
	Prefixes []string
	// Original error for internal logging, never serialized
	Log error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Log
}

// Retryable reports whether the caller may retry the request at all.
// Rate limits clear after one bucket interval, quota only on cycle reset.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUpstreamUnavailable, KindUpstreamError:
		return true
	}
	return false
}

// HTTPStatus maps the kind to its transport-facing status class.
// The mapping is total: every kind has exactly one entry.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnsupportedProvider, KindUnsupportedModel:
		return http.StatusNotFound
	case KindQuotaExceeded, KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func InvalidRequestError(detail string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: detail}
}

func UnsupportedProviderError(provider string) *Error {
	return &Error{
		Kind:    KindUnsupportedProvider,
		Message: fmt.Sprintf("unsupported model provider: %s", provider),
	}
}

func UnsupportedModelError(model, provider string, prefixes []string) *Error {
	return &Error{
		Kind: KindUnsupportedModel,
		Message: fmt.Sprintf("unsupported model: %s. Supported model prefixes for %s: [%s]",
			model, provider, strings.Join(prefixes, ", ")),
		Prefixes: prefixes,
	}
}

func QuotaExceededError(plan string) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("usage allowance exhausted for the current billing cycle on plan %s", plan),
	}
}

func RateLimitedError(limit float64) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Message: fmt.Sprintf("rate limit exceeded: plan allows %.0f requests per second", limit),
	}
}

func NotConfiguredError(provider string) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: fmt.Sprintf("%s API key not configured", provider),
	}
}

func UpstreamUnavailableError(provider string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: fmt.Sprintf("%s upstream unreachable", provider),
		Log:     err,
	}
}

func UpstreamFailureError(provider string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamError,
		Message: fmt.Sprintf("%s upstream returned an unexpected response", provider),
		Log:     err,
	}
}

func InternalError(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: "an unexpected error occurred",
		Log:     err,
	}
}

// Normalize returns err as a gateway *Error, wrapping anything unknown as
// Internal so no raw error shape ever reaches the caller.
func Normalize(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return InternalError(err)
}
