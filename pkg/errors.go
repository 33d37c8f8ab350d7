package tipjar

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	BadRequest    ErrorCode = "bad-request"
	NotAvailable  ErrorCode = "not-available"
	NotFound      ErrorCode = "not-found"
	AlreadyExists ErrorCode = "already-exists"
	DBConflict    ErrorCode = "db-conflict"
	SelfTip       ErrorCode = "self-tip"
	DuplicateTx   ErrorCode = "duplicate-tx"
	Unauthorized  ErrorCode = "unauthorized"
	UnknownError  ErrorCode = "unknown-error"
)

type ErrorInfo struct {
	Code    ErrorCode // machine-readble ErrorCode enumeration
	Message string    // human-readable debug message (in production, logged on the server only)
}

func (e *ErrorInfo) Error() string {
	return string(e.Message)
}

func NewErr(code ErrorCode, format string, args ...any) error {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsNotFoundError(err error) bool {
	return IsError(err, NotFound)
}

func IsAlreadyExistsError(err error) bool {
	return IsError(err, AlreadyExists)
}

func IsDBConflictError(err error) bool {
	return IsError(err, DBConflict)
}

// IsNotAvailableError reports a transient infrastructure failure
// (RPC node or database unreachable); the operation can be retried.
func IsNotAvailableError(err error) bool {
	return IsError(err, NotAvailable)
}

func IsError(err error, ofType ErrorCode) bool {
	var e *ErrorInfo
	if errors.As(err, &e) {
		return e.Code == ofType
	}
	return false
}

// CodeOf returns the ErrorCode carried by err (UnknownError if none).
func CodeOf(err error) ErrorCode {
	var e *ErrorInfo
	if errors.As(err, &e) {
		return e.Code
	}
	return UnknownError
}
