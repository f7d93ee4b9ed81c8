package errors

import (
	"fmt"
	"time"
)

// Error is the structured error returned by the supervision core.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	timestamp time.Time
	entityID  string // supervised entity, if applicable
	tagID     string // tag record, if applicable
}

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

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// EntityID returns the supervised entity the error refers to, if set.
func (e *Error) EntityID() string {
	return e.entityID
}

// TagID returns the tag the error refers to, if set.
func (e *Error) TagID() string {
	return e.tagID
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithEntityID sets the supervised entity ID.
func WithEntityID(id string) Option {
	return func(e *Error) {
		e.entityID = id
	}
}

// WithTagID sets the tag ID.
func WithTagID(id string) Option {
	return func(e *Error) {
		e.tagID = id
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
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Precondition creates a precondition error. These signal caller bugs and
// are never retried.
func Precondition(message string, opts ...Option) *Error {
	return New(ErrCodePrecondition, message, opts...)
}

// Inconsistent creates a configuration inconsistency error.
func Inconsistent(message string, opts ...Option) *Error {
	return New(ErrCodeInconsistent, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}

// EntityNotFound creates a not found error for a supervised entity.
func EntityNotFound(id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("entity %s not found", id), WithEntityID(id))
}

// TagNotFound creates a not found error for a tag record.
func TagNotFound(id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("tag %s not found", id), WithTagID(id))
}
