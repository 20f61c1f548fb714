// Package provider defines the provider interface and the fallback-aware router.
package provider

import "context"

// Provider adapts an external LLM-like backend to the core.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Priority returns the selection priority. Lower is preferred.
	Priority() int

	// Capabilities returns the runtime capability record.
	Capabilities() Capabilities

	// Execute sends a request and returns the buffered response.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error)

	// IsAvailable probes whether the provider can currently serve requests.
	IsAvailable(ctx context.Context) (bool, error)

	// GetHealth returns a health snapshot.
	GetHealth(ctx context.Context) (*HealthStatus, error)
}

// StreamingProvider is implemented by providers that can stream tokens.
// The executor selects streaming only when the request asks for it and the
// provider's Capabilities advertise it.
type StreamingProvider interface {
	Provider

	// ExecuteStreaming sends a request, emitting tokens and progress through
	// the handler. The returned response is the complete result.
	ExecuteStreaming(ctx context.Context, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error)
}
