package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil. A wrapped *Error keeps its code; context
// errors map to TIMEOUT/CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var botErr *Error
	if errors.As(err, &botErr) {
		wrapped := &Error{
			code:      botErr.code,
			category:  botErr.category,
			message:   message,
			cause:     err,
			metadata:  botErr.Metadata(),
			timestamp: botErr.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...any) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsBotError extracts a BotError from an error chain, or nil.
func AsBotError(err error) BotError {
	var botErr *Error
	if errors.As(err, &botErr) {
		return botErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var botErr *Error
		if !errors.As(err, &botErr) {
			return false
		}
		if botErr.code == code {
			return true
		}
		err = botErr.cause
	}
	return false
}

// IsCategory checks if the outermost BotError in the chain has the category.
func IsCategory(err error, category ErrorCategory) bool {
	var botErr *Error
	if errors.As(err, &botErr) {
		return botErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var botErr *Error
	if errors.As(err, &botErr) {
		return botErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var botErr *Error
	if errors.As(err, &botErr) {
		return botErr.code
	}
	return ""
}

// Reaction tells a feature handler how to answer the user after a failure.
type Reaction int

const (
	// ReactGeneric means reply with a generic failure message.
	ReactGeneric Reaction = iota
	// ReactRetry means reply "try again later".
	ReactRetry
	// ReactEmpty means reply "nothing to show".
	ReactEmpty
	// ReactIgnore means stay silent.
	ReactIgnore
)

// ReactionFor maps an error onto the reply a handler should give.
func ReactionFor(err error) Reaction {
	switch {
	case err == nil:
		return ReactIgnore
	case Is(err, ErrCodeEmptyPool):
		return ReactEmpty
	case Is(err, ErrCodeStaleCorrelation), Is(err, ErrCodeCanceled):
		return ReactIgnore
	case IsRetryable(err):
		return ReactRetry
	default:
		return ReactGeneric
	}
}
