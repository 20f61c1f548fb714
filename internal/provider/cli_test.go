package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIProviderExecute(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "fake-cli", Command: "fake", Priority: 1, Logger: zerolog.Nop()})
	p.runCmd = func(ctx context.Context, prompt string) (string, error) {
		assert.Equal(t, "hello", prompt)
		return "  response text\n", nil
	}

	resp, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "hello", Model: "sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "response text", resp.Content)
	assert.Equal(t, "sonnet", resp.Model)
	assert.Equal(t, FinishReasonStop, resp.FinishReason)
}

func TestCLIProviderExecuteFailure(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "fake-cli", Command: "fake", Logger: zerolog.Nop()})
	p.runCmd = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("fake: authentication required")
	}

	_, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeExecutionError, CodeOf(err))
	assert.False(t, IsRetryable(err))
}

func TestCLIProviderTimeoutIsRetryable(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "fake-cli", Command: "fake", Timeout: 10 * time.Millisecond, Logger: zerolog.Nop()})
	p.runCmd = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := p.Execute(context.Background(), ExecutionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestCLIProviderStreams(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "fake-cli", Command: "fake", Logger: zerolog.Nop()})
	p.runCmdStream = func(ctx context.Context, prompt string, h StreamHandler) (string, error) {
		assert.Equal(t, "hello", prompt)
		for _, line := range []string{"first line\n", "second line\n"} {
			h.OnToken(line)
		}
		h.OnProgress(100)
		return "first line\nsecond line\n", nil
	}

	assert.True(t, p.Capabilities().Streaming)

	var tokens []string
	var progress []int
	resp, err := p.ExecuteStreaming(context.Background(), ExecutionRequest{Prompt: "hello"}, StreamHandler{
		OnToken:    func(tok string) { tokens = append(tokens, tok) },
		OnProgress: func(pct int) { progress = append(progress, pct) },
	})
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", resp.Content)
	assert.Equal(t, []string{"first line\n", "second line\n"}, tokens)
	assert.Equal(t, []int{100}, progress)
}

func TestCLIProviderStreamFailure(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "fake-cli", Command: "fake", Logger: zerolog.Nop()})
	p.runCmdStream = func(ctx context.Context, prompt string, h StreamHandler) (string, error) {
		return "", errors.New("fake: broken pipe")
	}

	_, err := p.ExecuteStreaming(context.Background(), ExecutionRequest{Prompt: "x"}, StreamHandler{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeExecutionError, CodeOf(err))
}

func TestCLIProviderUnavailableWhenCommandMissing(t *testing.T) {
	p := NewCLIProvider(CLIOptions{Name: "ghost", Command: "definitely-not-installed-anywhere", Logger: zerolog.Nop()})

	ok, err := p.IsAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := p.GetHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Available)
	assert.NotEmpty(t, h.Error)
}
