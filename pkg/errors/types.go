// Package errors provides structured error handling for the protocol
// runtime. Errors map to JSON-RPC error codes and carry enough context to
// be rendered on the wire or inspected programmatically.
package errors

import (
	"fmt"
)

// Category classifies an error for handling and metrics.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryTransport  Category = "transport"
	CategoryInternal   Category = "internal"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryProtocol   Category = "protocol"
	CategoryCapability Category = "capability"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// MCPError is the interface implemented by every structured error this
// runtime produces. Message() is safe to expose to the remote peer;
// Detail() is not.
type MCPError interface {
	error

	// Code returns the JSON-RPC error code.
	Code() int

	// Message returns the peer-visible error message.
	Message() string

	// Detail returns local diagnostic detail, never sent on the wire.
	Detail() string

	// Data returns structured error data for the wire error object.
	Data() any

	// Category returns the error category.
	Category() Category

	// Severity returns the error severity.
	Severity() Severity

	// WithDetail returns a copy with additional local detail.
	WithDetail(detail string) MCPError

	// WithData returns a copy with structured data attached.
	WithData(data any) MCPError

	// Unwrap returns the underlying cause, if any.
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	detail   string
	data     any
	category Category
	severity Severity
	cause    error
}

func (e *baseError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.message, e.detail)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Detail() string     { return e.detail }
func (e *baseError) Data() any          { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithDetail(detail string) MCPError {
	clone := *e
	if clone.detail != "" {
		clone.detail = fmt.Sprintf("%s; %s", clone.detail, detail)
	} else {
		clone.detail = detail
	}
	return &clone
}

func (e *baseError) WithData(data any) MCPError {
	clone := *e
	clone.data = data
	return &clone
}

// New creates an MCPError with the canonical category and severity for its
// code.
func New(code int, message string) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: CategoryForCode(code),
		severity: SeverityForCode(code),
	}
}

// Newf creates an MCPError with a formatted message.
func Newf(code int, format string, args ...any) MCPError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps a cause as an MCPError. The cause is reachable through
// errors.Unwrap but never included in the peer-visible message.
func Wrap(cause error, code int, message string) MCPError {
	return &baseError{
		code:     code,
		message:  message,
		category: CategoryForCode(code),
		severity: SeverityForCode(code),
		cause:    cause,
	}
}

// As extracts an MCPError from an error chain.
func As(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	for e := err; e != nil; e = unwrapOnce(e) {
		if mcpErr, ok := e.(MCPError); ok {
			return mcpErr, true
		}
	}
	return nil, false
}

func unwrapOnce(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// IsCode reports whether the error chain contains an MCPError with the
// given code.
func IsCode(err error, code int) bool {
	mcpErr, ok := As(err)
	return ok && mcpErr.Code() == code
}

// IsCategory reports whether the error chain contains an MCPError of the
// given category.
func IsCategory(err error, category Category) bool {
	mcpErr, ok := As(err)
	return ok && mcpErr.Category() == category
}
