package domain

import (
	"errors"
	"fmt"
)

// Failure classes surfaced by the image acquisition pipeline and the template engine.
var (
	ErrMalformedURL           = errors.New("malformed url")
	ErrPrivateAddressBlocked  = errors.New("private address blocked")
	ErrRequestFailed          = errors.New("request failed")
	ErrResponseTooLarge       = errors.New("response too large")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrMalformedTemplate      = errors.New("malformed template")
	ErrInvalidInput           = errors.New("invalid input")
	ErrDuplicateDirective     = errors.New("duplicate directive")
)

// FetchError reports a failed image acquisition. Kind is always one of the
// fetch sentinels above; Err carries the underlying cause when there is one.
type FetchError struct {
	Kind error
	URL  string
	Err  error
}

// NewFetchError builds a FetchError of the given kind.
func NewFetchError(kind error, rawURL string, cause error) *FetchError {
	return &FetchError{Kind: kind, URL: rawURL, Err: cause}
}

// FetchErrorf builds a FetchError whose cause is a formatted message.
func FetchErrorf(kind error, rawURL, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, URL: rawURL, Err: fmt.Errorf(format, args...)}
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FailureCode maps an error to a stable snake_case code for metrics labels and
// API responses.
func FailureCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedURL):
		return "malformed_url"
	case errors.Is(err, ErrPrivateAddressBlocked):
		return "private_address_blocked"
	case errors.Is(err, ErrResponseTooLarge):
		return "response_too_large"
	case errors.Is(err, ErrUnsupportedContentType):
		return "unsupported_content_type"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	case errors.Is(err, ErrMalformedTemplate):
		return "malformed_template"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the JSON error model returned by the HTTP surface.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
