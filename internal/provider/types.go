package provider

import "time"

// ExecutionRequest represents a single provider invocation.
type ExecutionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Streaming    bool    `json:"stream,omitempty"`
}

// TokenUsage represents token usage statistics.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// FinishReason describes how an execution ended.
type FinishReason string

// Finish reasons.
const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonError     FinishReason = "error"
	FinishReasonCancelled FinishReason = "cancelled"
)

// ExecutionResponse represents a provider response.
type ExecutionResponse struct {
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	TokensUsed   TokenUsage   `json:"tokens_used"`
	LatencyMs    int64        `json:"latency_ms"`
	FinishReason FinishReason `json:"finish_reason"`
}

// Capabilities is the runtime capability record of a provider handle.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// StreamHandler receives streaming callbacks. Tokens form a finite,
// non-restartable sequence; progress percentages are monotonically
// non-decreasing.
type StreamHandler struct {
	OnToken    func(token string)
	OnProgress func(percent int)
}

// HealthStatus is a snapshot of provider health.
type HealthStatus struct {
	Available           bool      `json:"available"`
	LatencyMs           int64     `json:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastChecked         time.Time `json:"last_checked"`
	Error               string    `json:"error,omitempty"`
}
