package tool

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code for a failed tool invocation.
type Code string

const (
	// CodeToolNotFound: no tool is registered under the requested name.
	CodeToolNotFound Code = "TOOL_NOT_FOUND"
	// CodeValidation: the arguments failed schema validation.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeAuthorization: the execution context lacks the required
	// permission or role.
	CodeAuthorization Code = "AUTHORIZATION_ERROR"
	// CodeDelegationRequired: the tool mandates a delegated context and
	// none is present.
	CodeDelegationRequired Code = "DELEGATION_REQUIRED"
	// CodeForbidden: an ownership check failed.
	CodeForbidden Code = "FORBIDDEN"
	// CodeNotFound: the referenced entity does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict: a concurrent writer won; re-read before retrying.
	CodeConflict Code = "CONCURRENT_MODIFICATION"
	// CodeInvalidState: the entity is not in a state that permits the
	// requested transition.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeExecution: the handler failed, timed out, or panicked.
	CodeExecution Code = "EXECUTION_ERROR"
	// CodeUnavailable: a backing store was unreachable or timed out.
	// Retryable with backoff, unlike the authorization-class codes.
	CodeUnavailable Code = "UNAVAILABLE"
)

// Error is a typed tool invocation failure. Every error crossing the
// dispatch boundary is one of these; handlers never leak raw errors.
type Error struct {
	// Code is the machine-readable error code.
	Code Code
	// Message is a human-readable, non-leaking description.
	Message string
	// Fields carries field-level detail for validation errors.
	Fields map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a tool error with the given code and formatted message.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationError builds a VALIDATION_ERROR carrying field-level detail.
func ValidationError(fields map[string]string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "invalid arguments",
		Fields:  fields,
	}
}

// AsToolError extracts a *Error from err, or wraps err as EXECUTION_ERROR.
// The wrapped message is the error's own text; callers are responsible for
// not embedding secrets in error strings.
func AsToolError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: CodeExecution, Message: err.Error()}
}
