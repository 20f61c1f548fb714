package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCLITimeout bounds one CLI invocation when none is configured.
const DefaultCLITimeout = 5 * time.Minute

// CLIOptions configures a CLIProvider.
type CLIOptions struct {
	Name     string
	Command  string   // executable looked up on PATH
	Args     []string // fixed arguments before the prompt
	Priority int
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// CLIProvider adapts an installed assistant CLI: the prompt goes to stdin,
// stdout becomes the response content.
type CLIProvider struct {
	opts CLIOptions

	runCmd       func(ctx context.Context, prompt string) (string, error)
	runCmdStream func(ctx context.Context, prompt string, h StreamHandler) (string, error)
}

// NewCLIProvider creates a CLIProvider.
func NewCLIProvider(opts CLIOptions) *CLIProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCLITimeout
	}
	p := &CLIProvider{opts: opts}
	p.runCmd = p.runCommand
	p.runCmdStream = p.runCommandStream
	return p
}

// Name implements Provider.
func (p *CLIProvider) Name() string { return p.opts.Name }

// Priority implements Provider.
func (p *CLIProvider) Priority() int { return p.opts.Priority }

// Capabilities implements Provider.
func (p *CLIProvider) Capabilities() Capabilities { return Capabilities{Streaming: true} }

// Execute implements Provider.
func (p *CLIProvider) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := p.runCmd(ctx, req.Prompt)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewProviderError(p.opts.Name, ErrCodeExecutionError,
				fmt.Sprintf("command timeout after %s", p.opts.Timeout), true)
		}
		return nil, NewProviderError(p.opts.Name, ErrCodeExecutionError, err.Error(), false)
	}

	return &ExecutionResponse{
		Content:      strings.TrimSpace(out),
		Model:        req.Model,
		LatencyMs:    latency,
		FinishReason: FinishReasonStop,
	}, nil
}

// ExecuteStreaming implements StreamingProvider. Stdout lines are emitted as
// tokens while the command runs.
func (p *CLIProvider) ExecuteStreaming(ctx context.Context, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := p.runCmdStream(ctx, req.Prompt, h)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewProviderError(p.opts.Name, ErrCodeExecutionError,
				fmt.Sprintf("command timeout after %s", p.opts.Timeout), true)
		}
		return nil, NewProviderError(p.opts.Name, ErrCodeExecutionError, err.Error(), false)
	}

	return &ExecutionResponse{
		Content:      strings.TrimSpace(out),
		Model:        req.Model,
		LatencyMs:    latency,
		FinishReason: FinishReasonStop,
	}, nil
}

// IsAvailable implements Provider. A provider is available when its command
// resolves on PATH.
func (p *CLIProvider) IsAvailable(ctx context.Context) (bool, error) {
	_, err := exec.LookPath(p.opts.Command)
	return err == nil, nil
}

// GetHealth implements Provider.
func (p *CLIProvider) GetHealth(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	ok, _ := p.IsAvailable(ctx)

	h := &HealthStatus{
		Available: ok,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if !ok {
		h.Error = fmt.Sprintf("command %q not found", p.opts.Command)
	}
	return h, nil
}

func (p *CLIProvider) runCommand(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, p.opts.Command, p.opts.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.opts.Logger.Debug().
		Str("provider", p.opts.Name).
		Str("command", p.opts.Command).
		Msg("invoking provider command")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", p.opts.Command, msg)
	}
	return stdout.String(), nil
}

func (p *CLIProvider) runCommandStream(ctx context.Context, prompt string, h StreamHandler) (string, error) {
	cmd := exec.CommandContext(ctx, p.opts.Command, p.opts.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%s: %v", p.opts.Command, err)
	}

	p.opts.Logger.Debug().
		Str("provider", p.opts.Name).
		Str("command", p.opts.Command).
		Msg("invoking provider command with streaming")

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%s: %v", p.opts.Command, err)
	}

	var content strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		token := scanner.Text() + "\n"
		content.WriteString(token)
		if h.OnToken != nil {
			h.OnToken(token)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", p.opts.Command, msg)
	}
	if scanErr != nil {
		return "", fmt.Errorf("%s: %v", p.opts.Command, scanErr)
	}

	if h.OnProgress != nil {
		h.OnProgress(100)
	}
	return content.String(), nil
}
