package orchestration

import (
	"errors"
	"fmt"
)

// ErrorCode defines orchestration error codes.
type ErrorCode string

const (
	ErrCodeAgentExecutionFailed     ErrorCode = "AGENT_EXECUTION_FAILED"
	ErrCodeExecutionTimeout         ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeExecutionCancelled       ErrorCode = "EXECUTION_CANCELLED"
	ErrCodeMaxDelegationDepth       ErrorCode = "MAX_DELEGATION_DEPTH"
	ErrCodeDelegationCycle          ErrorCode = "DELEGATION_CYCLE"
	ErrCodeDelegationNotConfigured  ErrorCode = "DELEGATION_NOT_CONFIGURED"
	ErrCodeDependencyCycle          ErrorCode = "DEPENDENCY_CYCLE"
)

// Error is a structured orchestration error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Agent   string    `json:"agent,omitempty"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the orchestration error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
