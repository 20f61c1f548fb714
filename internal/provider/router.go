package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultCooldown is the penalty duration applied to a failing provider.
const DefaultCooldown = 60 * time.Second

// RouterOptions configures a Router.
type RouterOptions struct {
	// FallbackEnabled moves on to the next candidate when a provider fails.
	// When false, the first provider's error propagates unchanged.
	FallbackEnabled bool
	// Cooldown is how long a failing provider stays excluded. Zero means
	// DefaultCooldown.
	Cooldown time.Duration
	// HealthCheckInterval enables the background health loop when > 0.
	HealthCheckInterval time.Duration
	Logger              zerolog.Logger
}

// Router selects among registered providers by priority, tracking health and
// applying penalty cooldowns to failing providers.
type Router struct {
	opts      RouterOptions
	providers []Provider // sorted ascending by priority

	mu        sync.Mutex
	penalties map[string]time.Time // provider name -> penalty expiry
	health    map[string]HealthStatus

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	nowFunc func() time.Time
}

// NewRouter creates a Router over the given providers. The provider order is
// normalized to ascending priority. When HealthCheckInterval is positive the
// background health loop starts immediately.
func NewRouter(providers []Provider, opts RouterOptions) *Router {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	r := &Router{
		opts:      opts,
		providers: sorted,
		penalties: make(map[string]time.Time),
		health:    make(map[string]HealthStatus),
		done:      make(chan struct{}),
		nowFunc:   time.Now,
	}

	if opts.HealthCheckInterval > 0 {
		r.wg.Add(1)
		go r.healthLoop()
	}

	return r
}

// Execute routes the request to the preferred available provider, falling
// back down the priority order when enabled.
func (r *Router) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	req.Streaming = false
	return r.route(ctx, req, StreamHandler{})
}

// ExecuteStreaming routes the request like Execute but emits tokens and
// progress through the handler. Providers without streaming support run
// buffered; their whole response is delivered as a single token.
func (r *Router) ExecuteStreaming(ctx context.Context, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error) {
	req.Streaming = true
	return r.route(ctx, req, h)
}

func (r *Router) route(ctx context.Context, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error) {
	if len(r.providers) == 0 {
		return nil, NewRouterError(ErrCodeNoProvidersConfigured, "no providers configured")
	}

	candidates := r.AvailableProviders(ctx)
	if len(candidates) == 0 {
		return nil, NewRouterError(ErrCodeNoProvidersAvailable, "no providers available")
	}

	var lastErr error
	for _, p := range candidates {
		resp, err := r.dispatch(ctx, p, req, h)
		if err == nil {
			r.clearPenalty(p.Name())
			return resp, nil
		}

		r.opts.Logger.Warn().
			Str("provider", p.Name()).
			Err(err).
			Msg("provider execution failed")

		if !r.opts.FallbackEnabled {
			return nil, err
		}

		r.penalize(p.Name())
		lastErr = err
	}

	return nil, &RouterError{
		Code:      ErrCodeAllProvidersFailed,
		Message:   fmt.Sprintf("all providers failed, last error: %v", lastErr),
		LastError: lastErr,
	}
}

// dispatch runs one provider. Streaming is used only when the request asks
// for it and the provider advertises the capability; otherwise the buffered
// path serves, replaying the full content through the handler when streaming
// was requested.
func (r *Router) dispatch(ctx context.Context, p Provider, req ExecutionRequest, h StreamHandler) (*ExecutionResponse, error) {
	if req.Streaming {
		if sp, ok := p.(StreamingProvider); ok && p.Capabilities().Streaming {
			return sp.ExecuteStreaming(ctx, req, h)
		}
	}

	resp, err := p.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Streaming {
		if h.OnToken != nil && resp.Content != "" {
			h.OnToken(resp.Content)
		}
		if h.OnProgress != nil {
			h.OnProgress(100)
		}
	}
	return resp, nil
}

// SelectProvider returns the preferred available provider without executing.
func (r *Router) SelectProvider(ctx context.Context) (Provider, error) {
	if len(r.providers) == 0 {
		return nil, NewRouterError(ErrCodeNoProvidersConfigured, "no providers configured")
	}
	candidates := r.AvailableProviders(ctx)
	if len(candidates) == 0 {
		return nil, NewRouterError(ErrCodeNoProvidersAvailable, "no providers available")
	}
	return candidates[0], nil
}

// AvailableProviders probes every registered provider concurrently and
// returns the available ones in priority order, excluding providers under
// penalty. Probe failures count as "not available" and never propagate.
func (r *Router) AvailableProviders(ctx context.Context) []Provider {
	available := make([]bool, len(r.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range r.providers {
		g.Go(func() error {
			ok, err := p.IsAvailable(gctx)
			if err != nil {
				r.opts.Logger.Debug().
					Str("provider", p.Name()).
					Err(err).
					Msg("availability probe failed")
				return nil
			}
			available[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	var out []Provider
	for i, p := range r.providers {
		if available[i] && !r.underPenalty(p.Name()) {
			out = append(out, p)
		}
	}
	return out
}

// HealthStatus returns the latest health snapshot per provider.
func (r *Router) HealthStatus() map[string]HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]HealthStatus, len(r.health))
	for name, h := range r.health {
		out[name] = h
	}
	return out
}

// Providers returns the registered providers in priority order.
func (r *Router) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Destroy stops the health loop. Safe to call more than once.
func (r *Router) Destroy() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Router) penalize(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.penalties[name] = r.nowFunc().Add(r.opts.Cooldown)
}

func (r *Router) clearPenalty(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.penalties, name)
}

func (r *Router) underPenalty(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.penalties[name]
	if !ok {
		return false
	}
	if r.nowFunc().After(expiry) {
		delete(r.penalties, name)
		return false
	}
	return true
}

// healthLoop periodically probes every provider. A failing probe is recorded
// and logged; it never propagates.
func (r *Router) healthLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.checkHealth()
		}
	}
}

func (r *Router) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, p := range r.providers {
		h, err := p.GetHealth(ctx)
		if err != nil {
			r.opts.Logger.Warn().
				Str("provider", p.Name()).
				Err(err).
				Msg("health check failed")
			r.recordHealth(p.Name(), HealthStatus{
				Available:   false,
				LastChecked: r.nowFunc(),
				Error:       err.Error(),
			})
			continue
		}
		h.LastChecked = r.nowFunc()
		r.recordHealth(p.Name(), *h)
	}
}

func (r *Router) recordHealth(name string, h HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.health[name]
	if !h.Available {
		h.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	}
	r.health[name] = h
}
