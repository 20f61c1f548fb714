// Package maintenance schedules periodic housekeeping: temp file cleanup,
// memory retention, and terminal session sweeps.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"automatosx/internal/memory"
	"automatosx/internal/session"
	"automatosx/internal/workspace"
)

// Default schedules.
const (
	DefaultTmpCleanupSpec     = "0 3 * * *"  // daily at 03:00
	DefaultMemoryCleanupSpec  = "30 3 * * *" // daily at 03:30
	DefaultSessionCleanupSpec = "45 3 * * *" // daily at 03:45
)

// Options wires a Scheduler. Nil components disable their jobs.
type Options struct {
	Memory     *memory.Manager
	Sessions   *session.Manager
	Workspaces *workspace.Manager

	// TmpMaxAge bounds temp file age; 0 disables the tmp job.
	TmpMaxAge time.Duration
	// MemoryRetentionDays bounds entry age; 0 disables the retention job.
	MemoryRetentionDays int
	// SessionMaxAgeDays bounds terminal session age; 0 disables the job.
	SessionMaxAgeDays int

	TmpCleanupSpec     string // cron spec, empty = default
	MemoryCleanupSpec  string
	SessionCleanupSpec string

	Logger zerolog.Logger
}

// Scheduler runs housekeeping jobs on cron schedules.
type Scheduler struct {
	opts   Options
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a Scheduler and registers the enabled jobs.
func New(opts Options) (*Scheduler, error) {
	s := &Scheduler{
		opts:   opts,
		cron:   cron.New(),
		logger: opts.Logger,
	}

	if opts.Workspaces != nil && opts.TmpMaxAge > 0 {
		spec := opts.TmpCleanupSpec
		if spec == "" {
			spec = DefaultTmpCleanupSpec
		}
		if _, err := s.cron.AddFunc(spec, s.runTmpCleanup); err != nil {
			return nil, err
		}
	}

	if opts.Memory != nil && opts.MemoryRetentionDays > 0 {
		spec := opts.MemoryCleanupSpec
		if spec == "" {
			spec = DefaultMemoryCleanupSpec
		}
		if _, err := s.cron.AddFunc(spec, s.runMemoryRetention); err != nil {
			return nil, err
		}
	}

	if opts.Sessions != nil && opts.SessionMaxAgeDays > 0 {
		spec := opts.SessionCleanupSpec
		if spec == "" {
			spec = DefaultSessionCleanupSpec
		}
		if _, err := s.cron.AddFunc(spec, s.runSessionRetention); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug().Int("jobs", len(s.cron.Entries())).Msg("maintenance scheduler started")
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes every enabled job immediately. Used at startup and by the
// CLI cleanup command.
func (s *Scheduler) RunOnce() {
	if s.opts.Workspaces != nil && s.opts.TmpMaxAge > 0 {
		s.runTmpCleanup()
	}
	if s.opts.Memory != nil && s.opts.MemoryRetentionDays > 0 {
		s.runMemoryRetention()
	}
	if s.opts.Sessions != nil && s.opts.SessionMaxAgeDays > 0 {
		s.runSessionRetention()
	}
}

func (s *Scheduler) runTmpCleanup() {
	removed, err := s.opts.Workspaces.CleanupTmp(s.opts.TmpMaxAge)
	if err != nil {
		s.logger.Warn().Err(err).Msg("tmp cleanup job failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("tmp cleanup job done")
	}
}

func (s *Scheduler) runSessionRetention() {
	removed := s.opts.Sessions.SweepTerminal(s.opts.SessionMaxAgeDays)
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("session retention job done")
	}
}

func (s *Scheduler) runMemoryRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.opts.MemoryRetentionDays)
	removed, err := s.opts.Memory.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("memory retention job failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("memory retention job done")
	}
}
