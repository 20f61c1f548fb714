package agent

import (
	"errors"
	"fmt"
)

// ErrorCode defines profile error codes.
type ErrorCode string

const (
	ErrCodeInvalidAgentName   ErrorCode = "INVALID_AGENT_NAME"
	ErrCodeProfileNotFound    ErrorCode = "PROFILE_NOT_FOUND"
	ErrCodeInvalidProfile     ErrorCode = "INVALID_PROFILE"
	ErrCodeDuplicateStageName ErrorCode = "DUPLICATE_STAGE_NAME"
)

// Error is a structured profile error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// CodeOf extracts the profile error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
