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

// fakeProvider is a configurable in-memory provider.
type fakeProvider struct {
	name      string
	priority  int
	available bool
	probeErr  error
	execErr   error
	execCount int
	response  *ExecutionResponse
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Priority() int              { return f.priority }
func (f *fakeProvider) Capabilities() Capabilities { return Capabilities{} }

func (f *fakeProvider) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	f.execCount++
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.response != nil {
		return f.response, nil
	}
	return &ExecutionResponse{Content: "ok from " + f.name, FinishReason: FinishReasonStop}, nil
}

func (f *fakeProvider) IsAvailable(ctx context.Context) (bool, error) {
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.available, nil
}

func (f *fakeProvider) GetHealth(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Available: f.available}, nil
}

func newRouter(opts RouterOptions, providers ...Provider) *Router {
	opts.Logger = zerolog.Nop()
	return NewRouter(providers, opts)
}

func TestExecuteNoProvidersConfigured(t *testing.T) {
	r := newRouter(RouterOptions{})
	defer r.Destroy()

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoProvidersConfigured, CodeOf(err))
}

func TestExecutePrefersLowerPriority(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true}
	p2 := &fakeProvider{name: "second", priority: 2, available: true}
	r := newRouter(RouterOptions{FallbackEnabled: true}, p2, p1)
	defer r.Destroy()

	resp, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok from first", resp.Content)
	assert.Equal(t, 0, p2.execCount)
}

func TestExecuteFallsBackOnFailure(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true, execErr: errors.New("boom")}
	p2 := &fakeProvider{name: "second", priority: 2, available: true}
	r := newRouter(RouterOptions{FallbackEnabled: true}, p1, p2)
	defer r.Destroy()

	resp, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok from second", resp.Content)
}

func TestExecuteNoFallbackPropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	p1 := &fakeProvider{name: "first", priority: 1, available: true, execErr: sentinel}
	p2 := &fakeProvider{name: "second", priority: 2, available: true}
	r := newRouter(RouterOptions{FallbackEnabled: false}, p1, p2)
	defer r.Destroy()

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, p2.execCount)
}

func TestExecuteAllProvidersFailed(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true, execErr: errors.New("first down")}
	p2 := &fakeProvider{name: "second", priority: 2, available: true, execErr: errors.New("second down")}
	r := newRouter(RouterOptions{FallbackEnabled: true}, p1, p2)
	defer r.Destroy()

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeAllProvidersFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "second down")
}

func TestPenaltyExcludesProviderUntilCooldown(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true, execErr: errors.New("boom")}
	p2 := &fakeProvider{name: "second", priority: 2, available: true}
	r := newRouter(RouterOptions{FallbackEnabled: true, Cooldown: time.Minute}, p1, p2)
	defer r.Destroy()

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)

	// Within cooldown, first is excluded even though its probe succeeds
	p1.execErr = nil
	firstCalls := p1.execCount
	resp, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok from second", resp.Content)
	assert.Equal(t, firstCalls, p1.execCount)

	// After the cooldown elapses first is selected again
	now = now.Add(61 * time.Second)
	resp, err = r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok from first", resp.Content)
}

func TestSuccessClearsPenalty(t *testing.T) {
	p1 := &fakeProvider{name: "only", priority: 1, available: true, execErr: errors.New("boom")}
	r := newRouter(RouterOptions{FallbackEnabled: true, Cooldown: time.Minute}, p1)
	defer r.Destroy()

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.Error(t, err)

	// All providers penalized: the call fails rather than overriding cooldown
	_, err = r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	assert.Equal(t, ErrCodeNoProvidersAvailable, CodeOf(err))

	// Directly clear via a successful execution after cooldown
	now := time.Now().Add(2 * time.Minute)
	r.nowFunc = func() time.Time { return now }
	p1.execErr = nil
	_, err = r.Execute(context.Background(), ExecutionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.False(t, r.underPenalty("only"))
}

// streamingFakeProvider advertises and implements streaming.
type streamingFakeProvider struct {
	fakeProvider
	tokens      []string
	streamCount int
}

func (f *streamingFakeProvider) Capabilities() Capabilities {
	return Capabilities{Streaming: true}
}

func (f *streamingFakeProvider) ExecuteStreaming(ctx context.Context, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error) {
	f.streamCount++
	var content string
	for _, tok := range f.tokens {
		content += tok
		if h.OnToken != nil {
			h.OnToken(tok)
		}
	}
	if h.OnProgress != nil {
		h.OnProgress(100)
	}
	return &ExecutionResponse{Content: content, FinishReason: FinishReasonStop}, nil
}

func TestExecuteStreamingUsesStreamingProvider(t *testing.T) {
	p := &streamingFakeProvider{
		fakeProvider: fakeProvider{name: "streamer", priority: 1, available: true},
		tokens:       []string{"hel", "lo"},
	}
	r := newRouter(RouterOptions{}, p)
	defer r.Destroy()

	var tokens []string
	var progress []int
	resp, err := r.ExecuteStreaming(context.Background(), ExecutionRequest{Prompt: "hi"}, StreamHandler{
		OnToken:    func(tok string) { tokens = append(tokens, tok) },
		OnProgress: func(pct int) { progress = append(progress, pct) },
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, []string{"hel", "lo"}, tokens)
	assert.Equal(t, []int{100}, progress)
	assert.Equal(t, 1, p.streamCount)
	assert.Equal(t, 0, p.execCount)
}

func TestExecuteStreamingFallsBackToBuffered(t *testing.T) {
	p := &fakeProvider{name: "buffered", priority: 1, available: true}
	r := newRouter(RouterOptions{}, p)
	defer r.Destroy()

	var tokens []string
	var progress []int
	resp, err := r.ExecuteStreaming(context.Background(), ExecutionRequest{Prompt: "hi"}, StreamHandler{
		OnToken:    func(tok string) { tokens = append(tokens, tok) },
		OnProgress: func(pct int) { progress = append(progress, pct) },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok from buffered", resp.Content)

	// Whole content arrives as a single token with one final progress tick
	assert.Equal(t, []string{"ok from buffered"}, tokens)
	assert.Equal(t, []int{100}, progress)
}

func TestExecuteDoesNotStream(t *testing.T) {
	p := &streamingFakeProvider{
		fakeProvider: fakeProvider{name: "streamer", priority: 1, available: true},
		tokens:       []string{"x"},
	}
	r := newRouter(RouterOptions{}, p)
	defer r.Destroy()

	_, err := r.Execute(context.Background(), ExecutionRequest{Prompt: "hi", Streaming: true})
	require.NoError(t, err)
	assert.Equal(t, 0, p.streamCount)
	assert.Equal(t, 1, p.execCount)
}

func TestProbeFailureIsNotAvailable(t *testing.T) {
	p1 := &fakeProvider{name: "flaky", priority: 1, probeErr: errors.New("probe down")}
	p2 := &fakeProvider{name: "steady", priority: 2, available: true}
	r := newRouter(RouterOptions{FallbackEnabled: true}, p1, p2)
	defer r.Destroy()

	candidates := r.AvailableProviders(context.Background())
	require.Len(t, candidates, 1)
	assert.Equal(t, "steady", candidates[0].Name())
}

func TestSelectProvider(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true}
	r := newRouter(RouterOptions{}, p1)
	defer r.Destroy()

	p, err := r.SelectProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", p.Name())
}

func TestDestroyIdempotent(t *testing.T) {
	p1 := &fakeProvider{name: "first", priority: 1, available: true}
	r := newRouter(RouterOptions{HealthCheckInterval: 10 * time.Millisecond}, p1)

	time.Sleep(30 * time.Millisecond)
	r.Destroy()
	r.Destroy()

	health := r.HealthStatus()
	assert.NotEmpty(t, health)
}
