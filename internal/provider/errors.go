package provider

import (
	"errors"
	"fmt"
)

// ErrorCode defines router error codes.
type ErrorCode string

const (
	ErrCodeNoProvidersConfigured ErrorCode = "NO_PROVIDERS_CONFIGURED"
	ErrCodeNoProvidersAvailable  ErrorCode = "NO_PROVIDERS_AVAILABLE"
	ErrCodeAllProvidersFailed    ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrCodeExecutionError        ErrorCode = "PROVIDER_EXECUTION_ERROR"
	ErrCodeHealthError           ErrorCode = "PROVIDER_HEALTH_ERROR"
)

// RouterError is a structured error for router operations.
type RouterError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Provider string    `json:"provider,omitempty"`
	// LastError carries the final provider error for ALL_PROVIDERS_FAILED.
	LastError error `json:"-"`
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the last provider error for errors.Is/As.
func (e *RouterError) Unwrap() error {
	return e.LastError
}

// NewRouterError creates a RouterError.
func NewRouterError(code ErrorCode, message string) *RouterError {
	return &RouterError{Code: code, Message: message}
}

// CodeOf extracts the error code from router or provider errors, or "" for
// other errors.
func CodeOf(err error) ErrorCode {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ProviderError is a structured error from a single provider adapter.
type ProviderError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface. Timeouts keep the word "timeout" in
// the message so retry pattern matching can see it.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// NewProviderError creates a ProviderError.
func NewProviderError(providerName string, code ErrorCode, message string, retryable bool) *ProviderError {
	return &ProviderError{Code: code, Message: message, Provider: providerName, Retryable: retryable}
}

// IsRetryable reports whether the error is a provider error marked retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
