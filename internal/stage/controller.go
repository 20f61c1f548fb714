// Package stage runs an agent's workflow stages sequentially with per-stage
// timeouts, retries, and resumable checkpoints.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"automatosx/internal/agent"
	"automatosx/internal/memory"
	"automatosx/internal/orchestration"
)

// ErrorCode defines stage error codes.
type ErrorCode string

const (
	ErrCodeNoStages           ErrorCode = "NO_STAGES"
	ErrCodeStageFailed        ErrorCode = "STAGE_FAILED"
	ErrCodeCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrCodeCheckpointCorrupt  ErrorCode = "CHECKPOINT_CORRUPT"
	ErrCodeCheckpointWrite    ErrorCode = "CHECKPOINT_WRITE_ERROR"
)

// Error is a structured stage error.
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

// CodeOf extracts the stage error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// PipelineResult is the outcome of a full stage run.
type PipelineResult struct {
	Agent        string        `json:"agent"`
	Task         string        `json:"task"`
	StageResults []StageResult `json:"stageResults"`
	Completed    bool          `json:"completed"`
	CheckpointID string        `json:"checkpointId,omitempty"`
}

// FinalOutput returns the output of the last completed stage.
func (r *PipelineResult) FinalOutput() string {
	for i := len(r.StageResults) - 1; i >= 0; i-- {
		if r.StageResults[i].Success {
			return r.StageResults[i].Output
		}
	}
	return ""
}

// ControllerOptions wires a Controller.
type ControllerOptions struct {
	Executor      *orchestration.Executor
	Loader        *agent.Loader
	Memory        *memory.Manager
	CheckpointDir string
	// DefaultTimeout bounds one stage execution when the stage sets none.
	DefaultTimeout time.Duration
	// DefaultMaxRetries applies to stages without their own setting.
	DefaultMaxRetries int
	Logger            zerolog.Logger
}

// Controller executes workflow stages in order.
type Controller struct {
	executor          *orchestration.Executor
	loader            *agent.Loader
	memory            *memory.Manager
	checkpointDir     string
	defaultTimeout    time.Duration
	defaultMaxRetries int
	logger            zerolog.Logger

	nowFunc func() time.Time
}

// NewController creates a Controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	return &Controller{
		executor:          opts.Executor,
		loader:            opts.Loader,
		memory:            opts.Memory,
		checkpointDir:     opts.CheckpointDir,
		defaultTimeout:    opts.DefaultTimeout,
		defaultMaxRetries: opts.DefaultMaxRetries,
		logger:            opts.Logger,
		nowFunc:           time.Now,
	}
}

// Run executes every stage of the agent's profile for the given task.
func (ctl *Controller) Run(ctx context.Context, agentName, task string) (*PipelineResult, error) {
	profile, err := ctl.loader.LoadProfile(agentName)
	if err != nil {
		return nil, err
	}
	if len(profile.Stages) == 0 {
		return nil, &Error{Code: ErrCodeNoStages, Message: fmt.Sprintf("agent %q has no stages", agentName)}
	}

	cp := &Checkpoint{
		SchemaVersion:           CheckpointSchemaVersion,
		ID:                      uuid.NewString(),
		Agent:                   agentName,
		Task:                    task,
		Mode:                    "stages",
		LastCompletedStageIndex: -1,
		CreatedAt:               ctl.nowFunc().UTC(),
	}
	return ctl.run(ctx, profile, cp, 0)
}

// Resume continues a checkpointed pipeline from the stage after the last
// completed one.
func (ctl *Controller) Resume(ctx context.Context, checkpointID string) (*PipelineResult, error) {
	cp, err := ctl.LoadCheckpoint(checkpointID)
	if err != nil {
		return nil, err
	}

	profile, err := ctl.loader.LoadProfile(cp.Agent)
	if err != nil {
		return nil, err
	}
	if len(profile.Stages) == 0 {
		return nil, &Error{Code: ErrCodeNoStages, Message: fmt.Sprintf("agent %q has no stages", cp.Agent)}
	}

	// Drop any trailing failed attempt so it reruns, and rebuild the
	// accumulated outputs from the completed stages
	cp.StageResults = cp.StageResults[:cp.LastCompletedStageIndex+1]
	cp.PreviousOutputs = cp.PreviousOutputs[:0]
	for _, sr := range cp.StageResults {
		if sr.Success {
			cp.PreviousOutputs = append(cp.PreviousOutputs, sr.Output)
		}
	}

	ctl.logger.Info().
		Str("checkpoint", checkpointID).
		Str("agent", cp.Agent).
		Int("resumeFrom", cp.LastCompletedStageIndex+1).
		Msg("resuming stage pipeline")

	return ctl.run(ctx, profile, cp, cp.LastCompletedStageIndex+1)
}

func (ctl *Controller) run(ctx context.Context, profile *agent.AgentProfile, cp *Checkpoint, startIndex int) (*PipelineResult, error) {
	result := &PipelineResult{
		Agent:        cp.Agent,
		Task:         cp.Task,
		StageResults: cp.StageResults,
		CheckpointID: cp.ID,
	}

	prevOutputs := append([]string(nil), cp.PreviousOutputs...)

	for i := startIndex; i < len(profile.Stages); i++ {
		st := profile.Stages[i]

		sr := ctl.runStage(ctx, profile, st, cp.Task, prevOutputs)
		result.StageResults = append(result.StageResults, sr)
		cp.StageResults = result.StageResults

		if !sr.Success {
			// Persist progress so the pipeline can resume past the completed
			// stages
			if err := ctl.saveCheckpoint(cp); err != nil {
				ctl.logger.Error().Err(err).Msg("checkpoint save failed")
			}
			return result, &Error{
				Code:    ErrCodeStageFailed,
				Message: fmt.Sprintf("stage %q of agent %s failed: %s", st.Name, cp.Agent, sr.Error),
			}
		}

		cp.LastCompletedStageIndex = i
		prevOutputs = append(prevOutputs, sr.Output)
		cp.PreviousOutputs = prevOutputs

		if st.SaveToMemory && ctl.memory != nil {
			entry, err := ctl.memory.Add(ctx, sr.Output, memory.Metadata{
				Type:    memory.TypeTask,
				Source:  "stage:" + st.Name,
				AgentID: cp.Agent,
			})
			if err != nil {
				ctl.logger.Warn().Err(err).Str("stage", st.Name).Msg("stage memory save failed")
			} else {
				if cp.SharedData == nil {
					cp.SharedData = make(map[string]any)
				}
				cp.SharedData["memory:"+st.Name] = entry.ID
			}
		}

		if st.Checkpoint {
			if err := ctl.saveCheckpoint(cp); err != nil {
				ctl.logger.Error().Err(err).Msg("checkpoint save failed")
			}
		}
	}

	result.Completed = true
	return result, nil
}

func (ctl *Controller) runStage(ctx context.Context, profile *agent.AgentProfile, st agent.Stage, task string, previousOutputs []string) StageResult {
	start := ctl.nowFunc()
	sr := StageResult{Name: st.Name}

	timeout := ctl.defaultTimeout
	if st.Timeout > 0 {
		timeout = time.Duration(st.Timeout) * time.Millisecond
	}
	maxRetries := ctl.defaultMaxRetries
	if st.MaxRetries != nil {
		maxRetries = *st.MaxRetries
	}

	stageTask := BuildStageTask(st, task, previousOutputs)

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		sr.Attempts = attempt

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := ctl.executor.Run(stageCtx, profile.Name, stageTask, orchestration.ContextOptions{})
		cancel()

		if err == nil {
			sr.Success = true
			sr.Output = res.Response.Content
			break
		}
		lastErr = err

		ctl.logger.Warn().
			Str("agent", profile.Name).
			Str("stage", st.Name).
			Int("attempt", attempt).
			Err(err).
			Msg("stage attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	if !sr.Success && lastErr != nil {
		sr.Error = lastErr.Error()
	}
	sr.DurationMs = ctl.nowFunc().Sub(start).Milliseconds()
	sr.CompletedAt = ctl.nowFunc().UTC()
	return sr
}

// BuildStageTask renders the task handed to the provider for one stage.
// Outputs of every completed stage so far are carried along so later stages
// can build on all earlier work, not just the immediately preceding stage.
func BuildStageTask(st agent.Stage, originalTask string, previousOutputs []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Stage: %s\n\n", st.Name)

	if st.Description != "" {
		b.WriteString("## Stage Description\n\n")
		b.WriteString(st.Description)
		b.WriteString("\n\n")
	}

	b.WriteString("## Original Task\n\n")
	b.WriteString(strings.TrimSpace(originalTask))
	b.WriteString("\n")

	if len(st.KeyQuestions) > 0 {
		b.WriteString("\n## Key Questions to Address\n\n")
		for _, q := range st.KeyQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	if len(st.Outputs) > 0 {
		b.WriteString("\n## Expected Outputs\n\n")
		for _, o := range st.Outputs {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	if len(previousOutputs) > 0 {
		b.WriteString("\n## Previous Stage Outputs\n")
		for i, out := range previousOutputs {
			fmt.Fprintf(&b, "\n### Stage %d\n\n", i+1)
			b.WriteString(strings.TrimSpace(out))
			b.WriteString("\n")
		}
	}

	return b.String()
}
