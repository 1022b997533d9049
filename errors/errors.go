package errors

import (
	"fmt"
	"maps"
	"time"
)

// BotError is the interface for structured errors raised by the engine.
type BotError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of BotError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
}

var _ BotError = (*Error)(nil)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable reports whether the category allows retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	if e.metadata == nil {
		return make(map[string]string)
	}
	return maps.Clone(e.metadata)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// StorageUnavailable wraps a backend failure.
func StorageUnavailable(backend string, cause error) *Error {
	return New(ErrCodeStorageUnavailable, backend+" unavailable",
		WithCause(cause), WithMetadata("backend", backend))
}

// EmptyPool reports that a pool has nothing to serve.
func EmptyPool(pool string) *Error {
	return New(ErrCodeEmptyPool, fmt.Sprintf("pool %q is empty", pool),
		WithMetadata("pool", pool))
}

// StaleCorrelation reports a resolve with no live entry.
func StaleCorrelation(key string) *Error {
	return New(ErrCodeStaleCorrelation, fmt.Sprintf("no pending correlation for %q", key),
		WithMetadata("key", key))
}

// CorruptState reports a persisted document that failed validation.
func CorruptState(key string, cause error) *Error {
	return New(ErrCodeCorruptState, fmt.Sprintf("corrupt state at %q", key),
		WithCause(cause), WithMetadata("key", key))
}

// RateLimited reports an actor over budget.
func RateLimited(actor string, retryAfter time.Duration) *Error {
	return New(ErrCodeRateLimit, fmt.Sprintf("actor %s rate limited", actor),
		WithMetadata("actor", actor), WithMetadata("retry_after", retryAfter.String()))
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Conflict creates a conflict error.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
