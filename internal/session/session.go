// Package session tracks multi-agent collaboration sessions with a
// debounced JSON journal.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

// Session states. Completed and failed are terminal.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxMetadataBytes bounds the JSON-encoded size of session metadata.
const MaxMetadataBytes = 10 * 1024

// Session is a shared collaboration context across agents.
type Session struct {
	ID        string         `json:"id"`
	Initiator string         `json:"initiator"`
	Task      string         `json:"task"`
	Status    Status         `json:"status"`
	Agents    []string       `json:"agents"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ErrorCode defines session error codes.
type ErrorCode string

const (
	ErrCodeInvalidSessionID ErrorCode = "INVALID_SESSION_ID"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionTerminal  ErrorCode = "SESSION_TERMINAL"
	ErrCodeMetadataTooLarge ErrorCode = "SESSION_METADATA_TOO_LARGE"
	ErrCodePersistence      ErrorCode = "SESSION_PERSISTENCE_ERROR"
)

// Error is a structured session error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the session error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ValidateID checks that id is a version 4 UUID.
func ValidateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 4 {
		return &Error{Code: ErrCodeInvalidSessionID, Message: fmt.Sprintf("invalid session id %q", id)}
	}
	return nil
}
