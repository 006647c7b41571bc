// Package apierr defines the error taxonomy surfaced by the client library.
// Every error returned across the public API is (or wraps) an *Error, so
// callers can branch on Kind and retryability without string matching.
package apierr

import (
	"fmt"
	"time"
)

// Kind classifies an error for callers and for the retry machinery.
type Kind string

const (
	KindConfig    Kind = "config_error"
	KindAuth      Kind = "auth_error"
	KindNetwork   Kind = "network_error"
	KindTimeout   Kind = "timeout_error"
	KindRateLimit Kind = "rate_limit_error"
	KindServer    Kind = "server_error"
	KindClient    Kind = "client_error"
	KindParse     Kind = "parse_error"
	KindResource  Kind = "resource_error"
	KindCancelled Kind = "cancelled_error"
)

// Retryable reports whether errors of this kind may be retried by policy.
// Timeout retryability applies to streaming; unary calls are not retried
// automatically.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Error is the standardized error carried across the library.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind preserving the low-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error may be retried by policy.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// WithStatus attaches the upstream HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithContext attaches a single context value (url, strategy, status, ...).
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RetryAfter returns the upstream-advertised minimum delay, when present.
func (e *Error) RetryAfter() (time.Duration, bool) {
	if e.Context == nil {
		return 0, false
	}
	switch v := e.Context["retry_after"].(type) {
	case time.Duration:
		return v, true
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	}
	return 0, false
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if apiErr, ok := err.(*Error); ok {
			return apiErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind == kind
	}
	return false
}

// IsRetryable reports whether err is retryable by policy; non-taxonomy
// errors are treated as not retryable.
func IsRetryable(err error) bool {
	if apiErr, ok := As(err); ok {
		return apiErr.Retryable()
	}
	return false
}
