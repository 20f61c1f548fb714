package orchestration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"automatosx/internal/agent"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/workspace"
)

// DefaultRetryableErrors are the failure signatures worth retrying: transient
// network faults and provider throttling.
var DefaultRetryableErrors = []string{
	"ECONNREFUSED",
	"ETIMEDOUT",
	"ENOTFOUND",
	"rate_limit",
	"overloaded",
	"timeout",
}

// RetryPolicy controls retry of provider executions.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []string // substring match, case-insensitive; empty = defaults
}

// DefaultRetryPolicy mirrors the built-in configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the backoff before the given retry (1-based): the initial
// delay grown by the backoff factor, capped at MaxDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(retry-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether the error matches a retryable pattern.
func (p RetryPolicy) Retryable(err error) bool {
	patterns := p.RetryableErrors
	if len(patterns) == 0 {
		patterns = DefaultRetryableErrors
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range patterns {
		if strings.Contains(msg, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// DelegationStatus classifies a delegation outcome.
type DelegationStatus string

// Delegation outcomes. Skipped means the delegation never ran because a
// dependency failed or the batch was cancelled.
const (
	DelegationSuccess DelegationStatus = "success"
	DelegationFailure DelegationStatus = "failure"
	DelegationSkipped DelegationStatus = "skipped"
)

// DelegationOutputs lists the artifacts a delegation produced. Failed and
// skipped delegations carry empty outputs.
type DelegationOutputs struct {
	Files         []string `json:"files"`
	MemoryIDs     []int64  `json:"memoryIds"`
	WorkspacePath string   `json:"workspacePath,omitempty"`
}

// DelegationResult records the outcome of one delegation. It is always
// structurally complete: a failed delegation carries a synthesized response
// so downstream consumers never see a half-filled record.
type DelegationResult struct {
	ID        string            `json:"delegationId"`
	FromAgent string            `json:"fromAgent"`
	Target    string            `json:"toAgent"`
	Task      string            `json:"task"`
	Status    DelegationStatus  `json:"status"`
	Response  string            `json:"response"`
	Error     string            `json:"error,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Outputs   DelegationOutputs `json:"outputs"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Duration  time.Duration     `json:"duration"`
}

// ExecutionResult is the outcome of one agent execution, including any
// delegations it spawned.
type ExecutionResult struct {
	Response    *provider.ExecutionResponse `json:"response"`
	Delegations []DelegationResult          `json:"delegations,omitempty"`
	Duration    time.Duration               `json:"duration"`
}

// ExecutorOptions wires an Executor.
type ExecutorOptions struct {
	Router     *provider.Router
	Contexts   *ContextManager
	Loader     *agent.Loader
	Sessions   *session.Manager
	Workspaces *workspace.Manager
	Retry      RetryPolicy
	// Timeout bounds one execution end to end, including retries. 0 = none.
	Timeout time.Duration
	// MaxConcurrentDelegations bounds the parallel batch scheduler.
	MaxConcurrentDelegations int
	// ContinueDelegationsOnFailure keeps a batch going after a failure,
	// skipping only the dependents of the failed delegation. When false the
	// first failure cancels the rest of the batch and propagates upward.
	ContinueDelegationsOnFailure bool
	// Stream, when set, streams provider output through the handler.
	// Providers without streaming support are transparently buffered.
	Stream *provider.StreamHandler
	Logger zerolog.Logger
}

// Executor runs agent executions: prompt assembly, routed provider calls
// with retry, and recursive delegation dispatch.
type Executor struct {
	opts   ExecutorOptions
	logger zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.MaxConcurrentDelegations <= 0 {
		opts.MaxConcurrentDelegations = 4
	}
	return &Executor{
		opts:   opts,
		logger: opts.Logger,
		sleep:  sleepCtx,
	}
}

// Run loads the agent, assembles a context, and executes the task.
func (e *Executor) Run(ctx context.Context, agentName, task string, opts ContextOptions) (*ExecutionResult, error) {
	ec, err := e.opts.Contexts.CreateContext(ctx, agentName, task, opts)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, ec)
}

// Execute runs one assembled context to completion, dispatching any
// delegation directives found in the response.
func (e *Executor) Execute(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
	start := time.Now()

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	req := provider.ExecutionRequest{
		Prompt:    AssemblePrompt(ec),
		Model:     ec.Agent.Model,
		MaxTokens: ec.Agent.MaxTokens,
	}
	if ec.Agent.Temperature != nil {
		req.Temperature = *ec.Agent.Temperature
	}

	resp, err := e.executeWithRetry(ctx, ec, req)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{Response: resp}

	var dErr error
	if parsed := ParseDelegations(resp.Content); len(parsed) > 0 {
		result.Delegations, dErr = e.dispatchDelegations(ctx, ec, parsed)
	}

	result.Duration = time.Since(start)

	e.logger.Info().
		Str("agent", ec.Agent.Name).
		Int("delegations", len(result.Delegations)).
		Dur("duration", result.Duration).
		Msg("agent execution finished")

	return result, dErr
}

func (e *Executor) executeWithRetry(ctx context.Context, ec *ExecutionContext, req provider.ExecutionRequest) (*provider.ExecutionResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= e.opts.Retry.MaxAttempts; attempt++ {
		resp, err := e.callProvider(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.cancellationError(ec, ctxErr)
		}
		if !e.opts.Retry.Retryable(err) || attempt == e.opts.Retry.MaxAttempts {
			break
		}

		delay := e.opts.Retry.Delay(attempt)
		e.logger.Warn().
			Str("agent", ec.Agent.Name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("execution failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return nil, e.cancellationError(ec, err)
		}
	}

	return nil, &Error{
		Code:    ErrCodeAgentExecutionFailed,
		Message: fmt.Sprintf("agent %s execution failed: %v", ec.Agent.Name, lastErr),
		Agent:   ec.Agent.Name,
		Cause:   lastErr,
	}
}

func (e *Executor) callProvider(ctx context.Context, req provider.ExecutionRequest) (*provider.ExecutionResponse, error) {
	if e.opts.Stream != nil {
		return e.opts.Router.ExecuteStreaming(ctx, req, *e.opts.Stream)
	}
	return e.opts.Router.Execute(ctx, req)
}

func (e *Executor) cancellationError(ec *ExecutionContext, cause error) error {
	code := ErrCodeExecutionCancelled
	msg := fmt.Sprintf("agent %s execution cancelled", ec.Agent.Name)
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeExecutionTimeout
		msg = fmt.Sprintf("agent %s execution timed out after %s", ec.Agent.Name, e.opts.Timeout)
	}
	return &Error{Code: code, Message: msg, Agent: ec.Agent.Name, Cause: cause}
}

// dispatchDelegations runs parsed directives: sequentially for a single
// delegation, through the batch scheduler otherwise. When the context has no
// orchestration info the directives fail without dispatch. The error return
// is non-nil only when ContinueDelegationsOnFailure is off and a delegation
// failed.
func (e *Executor) dispatchDelegations(ctx context.Context, parent *ExecutionContext, parsed []ParsedDelegation) ([]DelegationResult, error) {
	var results []DelegationResult

	switch {
	case parent.Orchestration == nil:
		err := e.delegationDisabled(parent)
		results = make([]DelegationResult, len(parsed))
		for i, d := range parsed {
			results[i] = failedDelegation(parent, d, err)
		}
	case len(parsed) == 1:
		results = []DelegationResult{e.delegate(ctx, parent, parsed[0])}
	default:
		results = e.runBatch(ctx, parent, parsed)
	}

	if !e.opts.ContinueDelegationsOnFailure {
		for _, r := range results {
			if r.Status == DelegationFailure {
				return results, &Error{
					Code:    ErrCodeAgentExecutionFailed,
					Message: fmt.Sprintf("delegation to %s failed: %s", r.Target, r.Error),
					Agent:   parent.Agent.Name,
				}
			}
		}
	}
	return results, nil
}

// delegationDisabled explains why a context without orchestration info
// cannot delegate: a chain at the initiator's depth limit gets the depth
// error, anything else has no peers to delegate to.
func (e *Executor) delegationDisabled(parent *ExecutionContext) error {
	maxDepth, err := e.initiatorMaxDepth(parent)
	if err == nil && parent.Depth() >= maxDepth {
		chain := append(append([]string(nil), parent.DelegationChain...), parent.Agent.Name)
		return &Error{
			Code:    ErrCodeMaxDelegationDepth,
			Message: fmt.Sprintf("delegation depth %d exceeds limit %d (chain: %s)", len(chain), maxDepth, strings.Join(chain, " -> ")),
			Agent:   parent.Agent.Name,
		}
	}
	return &Error{
		Code:    ErrCodeDelegationNotConfigured,
		Message: fmt.Sprintf("agent %s cannot delegate: no collaborators available", parent.Agent.Name),
		Agent:   parent.Agent.Name,
	}
}

// initiatorMaxDepth resolves the depth limit from the chain initiator, so a
// deep profile cannot extend a shallow chain.
func (e *Executor) initiatorMaxDepth(parent *ExecutionContext) (int, error) {
	name := parent.Initiator()
	if name == parent.Agent.Name {
		return parent.Agent.MaxDelegationDepth(), nil
	}
	p, err := e.opts.Loader.LoadProfile(name)
	if err != nil {
		return 0, err
	}
	return p.MaxDelegationDepth(), nil
}

// delegate runs one delegation end to end: safety checks, session joining,
// child context assembly, recursive execution.
func (e *Executor) delegate(ctx context.Context, parent *ExecutionContext, d ParsedDelegation) DelegationResult {
	res := newDelegation(parent, d)

	chain := append(append([]string(nil), parent.DelegationChain...), parent.Agent.Name)

	if err := e.checkDelegation(parent, chain, d.Target); err != nil {
		return res.fail(err)
	}

	if parent.Session != nil {
		res.SessionID = parent.Session.ID
	} else if e.opts.Sessions != nil {
		s, err := e.opts.Sessions.Create(parent.Initiator(), d.Task, nil)
		if err != nil {
			return res.fail(err)
		}
		res.SessionID = s.ID
	}

	e.logger.Info().
		Str("delegationId", res.ID).
		Str("from", parent.Agent.Name).
		Str("to", d.Target).
		Str("sessionId", res.SessionID).
		Int("depth", len(chain)).
		Msg("delegating task")

	childResult, err := e.Run(ctx, d.Target, d.Task, ContextOptions{
		SessionID:       res.SessionID,
		DelegationChain: chain,
	})
	if err != nil {
		return res.fail(err)
	}

	res.Status = DelegationSuccess
	res.Response = childResult.Response.Content
	if e.opts.Workspaces != nil {
		if dir, err := e.opts.Workspaces.AgentDir(d.Target); err == nil {
			res.Outputs.WorkspacePath = dir
		}
		if files, err := e.opts.Workspaces.ListFiles(d.Target); err == nil {
			res.Outputs.Files = files
		}
	}
	return res.finish()
}

// checkDelegation enforces depth and cycle safety. The depth limit comes
// from the chain initiator, not the delegating agent.
func (e *Executor) checkDelegation(parent *ExecutionContext, chain []string, target string) error {
	maxDepth := parent.Orchestration.MaxDelegationDepth
	if len(chain) > maxDepth {
		return &Error{
			Code:    ErrCodeMaxDelegationDepth,
			Message: fmt.Sprintf("delegation depth %d exceeds limit %d (chain: %s)", len(chain), maxDepth, strings.Join(chain, " -> ")),
			Agent:   parent.Agent.Name,
		}
	}
	for _, name := range chain {
		if name == target {
			return &Error{
				Code:    ErrCodeDelegationCycle,
				Message: fmt.Sprintf("delegation to %s creates a cycle (chain: %s)", target, strings.Join(chain, " -> ")),
				Agent:   parent.Agent.Name,
			}
		}
	}
	return nil
}

func newDelegation(parent *ExecutionContext, d ParsedDelegation) DelegationResult {
	return DelegationResult{
		ID:        uuid.NewString(),
		FromAgent: parent.Agent.Name,
		Target:    d.Target,
		Task:      d.Task,
		Status:    DelegationFailure,
		StartTime: time.Now().UTC(),
	}
}

func (r DelegationResult) finish() DelegationResult {
	r.EndTime = time.Now().UTC()
	r.Duration = r.EndTime.Sub(r.StartTime)
	return r
}

func (r DelegationResult) fail(err error) DelegationResult {
	r.Status = DelegationFailure
	r.Error = err.Error()
	r.Response = fmt.Sprintf("Delegation to %s failed: %v", r.Target, err)
	return r.finish()
}

func failedDelegation(parent *ExecutionContext, d ParsedDelegation, err error) DelegationResult {
	return newDelegation(parent, d).fail(err)
}

func skippedDelegation(parent *ExecutionContext, d ParsedDelegation, reason string) DelegationResult {
	r := newDelegation(parent, d)
	r.Status = DelegationSkipped
	r.Error = reason
	r.Response = fmt.Sprintf("Delegation to %s skipped: %s", d.Target, reason)
	return r.finish()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
