package memory

import (
	"errors"
	"fmt"
)

// ErrorCode defines memory error codes.
type ErrorCode string

const (
	ErrCodeDatabase      ErrorCode = "DATABASE_ERROR"
	ErrCodeQuery         ErrorCode = "QUERY_ERROR"
	ErrCodeEntryNotFound ErrorCode = "ENTRY_NOT_FOUND"
	ErrCodeMemoryLimit   ErrorCode = "MEMORY_LIMIT"
	ErrCodeConfig        ErrorCode = "CONFIG_ERROR"
	ErrCodeImportFormat  ErrorCode = "IMPORT_FORMAT_ERROR"
)

// Error is a structured memory error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the memory error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

func dbError(msg string, cause error) error {
	return &Error{Code: ErrCodeDatabase, Message: fmt.Sprintf("%s: %v", msg, cause), Cause: cause}
}

func queryError(msg string, cause error) error {
	return &Error{Code: ErrCodeQuery, Message: fmt.Sprintf("%s: %v", msg, cause), Cause: cause}
}
