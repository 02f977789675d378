package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. The set is closed; handlers map codes to
// HTTP statuses and clients switch on them.
type Code string

const (
	CodeInvalidName       Code = "INVALID_NAME"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidPath       Code = "INVALID_PATH"
	CodePodNotFound       Code = "POD_NOT_FOUND"
	CodePodExists         Code = "POD_EXISTS"
	CodeStreamNotFound    Code = "STREAM_NOT_FOUND"
	CodeRecordNotFound    Code = "RECORD_NOT_FOUND"
	CodeNameExists        Code = "NAME_EXISTS"
	CodeMissingName       Code = "MISSING_NAME"
	CodeForbidden         Code = "FORBIDDEN"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeTokenExpired      Code = "TOKEN_EXPIRED"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodePodMismatch       Code = "POD_MISMATCH"
	CodeValidationError   Code = "VALIDATION_ERROR"
	CodeSchemaError       Code = "SCHEMA_ERROR"
	CodeConflict          Code = "CONFLICT"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeStorageError      Code = "STORAGE_ERROR"
	CodeDatabaseError     Code = "DATABASE_ERROR"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeRequestTimeout    Code = "REQUEST_TIMEOUT"
)

// Error is the tagged failure value the core returns. Details is optional
// structured context that ends up in the wire envelope.
type Error struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so callers can use errors.Is with a bare
// New(code, "") sentinel.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New creates an Error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of the error carrying structured details
func (e *Error) WithDetails(details interface{}) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for
// untagged errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to its HTTP status
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidName, CodeInvalidInput, CodeInvalidPath, CodeMissingName,
		CodeValidationError, CodeSchemaError:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden, CodePodMismatch:
		return http.StatusForbidden
	case CodePodNotFound, CodeStreamNotFound, CodeRecordNotFound:
		return http.StatusNotFound
	case CodePodExists, CodeNameExists, CodeConflict:
		return http.StatusConflict
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeRequestTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape of a failure response
type Envelope struct {
	Err *Error `json:"error"`
}

// AsEnvelope converts any error into the wire envelope, hiding internal
// detail for untagged errors.
func AsEnvelope(err error) *Envelope {
	var e *Error
	if errors.As(err, &e) {
		return &Envelope{Err: e}
	}
	return &Envelope{Err: New(CodeInternalError, "internal error")}
}
