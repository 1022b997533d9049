package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates quota or rate limit exhaustion.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates corrupted state or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE" // Shared or content storage unreachable
	ErrCodeTimeout            ErrorCode = "TIMEOUT"             // Operation timed out
	ErrCodeConflict           ErrorCode = "CONFLICT"            // Optimistic update lost every retry

	// Permanent errors
	ErrCodeEmptyPool        ErrorCode = "EMPTY_POOL"        // Nothing to serve
	ErrCodeStaleCorrelation ErrorCode = "STALE_CORRELATION" // No pending entry for the key
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"         // Item does not exist
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"     // Malformed input
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"         // Platform refused the action
	ErrCodeCanceled         ErrorCode = "CANCELED"          // Context canceled

	// Resource errors
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Actor exceeded the window budget

	// Internal errors
	ErrCodeCorruptState ErrorCode = "CORRUPT_STATE" // Persisted document failed validation
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from panic in a handler
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeStorageUnavailable, ErrCodeTimeout, ErrCodeConflict:
		return CategoryTransient
	case ErrCodeEmptyPool, ErrCodeStaleCorrelation, ErrCodeNotFound,
		ErrCodeInvalidInput, ErrCodeForbidden, ErrCodeCanceled:
		return CategoryPermanent
	case ErrCodeRateLimit:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeStorageUnavailable: "storage unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeConflict:           "concurrent update conflict",
	ErrCodeEmptyPool:          "pool is empty",
	ErrCodeStaleCorrelation:   "no pending correlation",
	ErrCodeNotFound:           "item not found",
	ErrCodeInvalidInput:       "invalid input provided",
	ErrCodeForbidden:          "action not permitted",
	ErrCodeCanceled:           "operation canceled",
	ErrCodeRateLimit:          "rate limit exceeded",
	ErrCodeCorruptState:       "persisted state is corrupt",
	ErrCodeInternal:           "internal error",
	ErrCodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
