package errors

// ErrorCategory classifies errors by their nature and handling semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: bus disconnected, publisher backend unavailable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: caller bug, unknown entity, invalid configuration.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted state.
	// Examples: configured tag missing from the store, recovered panic.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for supervision and tag update failures.
const (
	// Transient errors
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Collaborator temporarily unavailable
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Entity or tag does not exist
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed event or configuration
	ErrCodePrecondition ErrorCode = "PRECONDITION"  // Caller violated a precondition
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Duplicate registration
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Internal errors
	ErrCodeInternal     ErrorCode = "INTERNAL"     // Unexpected internal error
	ErrCodeInconsistent ErrorCode = "INCONSISTENT" // Configuration and runtime state disagree
	ErrCodePanic        ErrorCode = "PANIC"        // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeUnavailable, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodePrecondition,
		ErrCodeConflict, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeUnavailable:  "collaborator unavailable",
	ErrCodeTimeout:      "operation timed out",
	ErrCodeNotFound:     "not found",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodePrecondition: "precondition failed",
	ErrCodeConflict:     "already registered",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodeInconsistent: "configuration inconsistency",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
