// Package cli implements the automatosx command line interface.
package cli

import (
	"path/filepath"
	"time"

	"automatosx/internal/ability"
	"automatosx/internal/agent"
	"automatosx/internal/config"
	"automatosx/internal/maintenance"
	"automatosx/internal/memory"
	"automatosx/internal/orchestration"
	"automatosx/internal/pathutil"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/stage"
	"automatosx/internal/workspace"
	"automatosx/pkg/logger"
)

// App holds the assembled component graph for one project.
type App struct {
	Config      *config.Config
	Layout      config.Layout
	Loader      *agent.Loader
	Abilities   *ability.Manager
	Memory      *memory.Manager
	Sessions    *session.Manager
	Workspaces  *workspace.Manager
	Router      *provider.Router
	Contexts    *orchestration.ContextManager
	Executor    *orchestration.Executor
	Stages      *stage.Controller
	Maintenance *maintenance.Scheduler
}

// NewApp loads configuration and wires every component for the project at
// projectRoot.
func NewApp(projectRoot string) (*App, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, err
	}

	layout := config.NewLayout(projectRoot)

	logCfg := cfg.Logging
	if logCfg.Path != "" && !pathutil.IsAbsolute(logCfg.Path) {
		logCfg.Path = filepath.Join(projectRoot, logCfg.Path)
	}
	if logCfg.Path != "" {
		if err := pathutil.EnsureDir(filepath.Dir(logCfg.Path)); err != nil {
			return nil, err
		}
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Layout: layout}

	app.Loader = agent.NewLoader(agent.LoaderOptions{
		AgentsDir: layout.AgentsDir(),
		TeamsDir:  layout.TeamsDir(),
		Logger:    logger.Named("agent"),
	})

	app.Abilities, err = ability.NewManager(ability.ManagerOptions{
		Dir:    layout.AbilitiesDir(),
		Watch:  true,
		Logger: logger.Named("ability"),
	})
	if err != nil {
		return nil, err
	}

	app.Memory, err = memory.NewManager(memoryConfig(cfg, projectRoot, layout), logger.Named("memory"))
	if err != nil {
		return nil, err
	}

	app.Sessions, err = session.NewManager(session.Options{
		Path:        layout.SessionsPath(),
		MaxSessions: cfg.Sessions.MaxSessions,
		Logger:      logger.Named("session"),
	})
	if err != nil {
		return nil, err
	}

	app.Workspaces, err = workspace.NewManager(workspace.Options{
		Root:   layout.WorkspacesDir(),
		PRDDir: resolvePath(projectRoot, cfg.Workspace.PRDPath, layout.PRDDir()),
		TmpDir: resolvePath(projectRoot, cfg.Workspace.TmpPath, layout.TmpDir()),
		Logger: logger.Named("workspace"),
	})
	if err != nil {
		return nil, err
	}

	app.Router = provider.NewRouter(buildProviders(cfg), provider.RouterOptions{
		FallbackEnabled:     cfg.Execution.FallbackEnabled,
		Cooldown:            time.Duration(cfg.Execution.ProviderCooldownMs) * time.Millisecond,
		HealthCheckInterval: time.Duration(cfg.Execution.HealthCheckInterval) * time.Millisecond,
		Logger:              logger.Named("router"),
	})

	app.Contexts = orchestration.NewContextManager(orchestration.ContextManagerOptions{
		Loader:     app.Loader,
		Abilities:  app.Abilities,
		Memory:     app.Memory,
		Router:     app.Router,
		Sessions:   app.Sessions,
		Workspaces: app.Workspaces,
		Logger:     logger.Named("context"),
	})

	retry := cfg.Execution.DefaultRetry
	app.Executor = orchestration.NewExecutor(orchestration.ExecutorOptions{
		Router:   app.Router,
		Contexts: app.Contexts,
		Loader:   app.Loader,
		Sessions: app.Sessions,
		Retry: orchestration.RetryPolicy{
			MaxAttempts:     retry.MaxAttempts,
			InitialDelay:    time.Duration(retry.InitialDelay) * time.Millisecond,
			MaxDelay:        time.Duration(retry.MaxDelay) * time.Millisecond,
			BackoffFactor:   retry.BackoffFactor,
			RetryableErrors: retry.RetryableErrors,
		},
		Timeout:                      time.Duration(cfg.Execution.DefaultTimeout) * time.Millisecond,
		MaxConcurrentDelegations:     cfg.Execution.MaxConcurrentAgents,
		ContinueDelegationsOnFailure: cfg.Execution.ContinueDelegationsOnFailure,
		Workspaces:                   app.Workspaces,
		Logger:                       logger.Named("executor"),
	})

	app.Stages = stage.NewController(stage.ControllerOptions{
		Executor:          app.Executor,
		Loader:            app.Loader,
		Memory:            app.Memory,
		CheckpointDir:     layout.CheckpointsDir(),
		DefaultTimeout:    time.Duration(cfg.Execution.DefaultStageTimeout) * time.Millisecond,
		DefaultMaxRetries: cfg.Execution.DefaultStageMaxRetries,
		Logger:            logger.Named("stage"),
	})

	maintOpts := maintenance.Options{
		Memory:            app.Memory,
		Sessions:          app.Sessions,
		Workspaces:        app.Workspaces,
		SessionMaxAgeDays: session.DefaultMaxAgeDays,
		Logger:            logger.Named("maintenance"),
	}
	if cfg.Workspace.AutoCleanupTmp {
		maintOpts.TmpMaxAge = time.Duration(cfg.Workspace.TmpCleanupDays) * 24 * time.Hour
	}
	if cfg.Memory.AutoCleanup {
		maintOpts.MemoryRetentionDays = cfg.Memory.CleanupDays
	}
	app.Maintenance, err = maintenance.New(maintOpts)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Close tears the component graph down in reverse order.
func (a *App) Close() {
	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}
	if a.Router != nil {
		a.Router.Destroy()
	}
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			logger.Warn().Err(err).Msg("session journal close failed")
		}
	}
	if a.Memory != nil {
		if err := a.Memory.Close(); err != nil {
			logger.Warn().Err(err).Msg("memory close failed")
		}
	}
	if a.Abilities != nil {
		_ = a.Abilities.Close()
	}
	_ = logger.Close()
}

func memoryConfig(cfg *config.Config, projectRoot string, layout config.Layout) memory.Config {
	path := resolvePath(projectRoot, cfg.Memory.PersistPath, layout.MemoryDBPath())
	return memory.Config{
		Path:        path,
		MaxEntries:  cfg.Memory.MaxEntries,
		TrackAccess: true,
		Cleanup: memory.CleanupConfig{
			Enabled:          cfg.Memory.Cleanup.Enabled,
			Strategy:         memory.CleanupStrategy(cfg.Memory.Cleanup.Strategy),
			TriggerThreshold: cfg.Memory.Cleanup.TriggerThreshold,
			TargetThreshold:  cfg.Memory.Cleanup.TargetThreshold,
			MinCleanupCount:  cfg.Memory.Cleanup.MinCleanupCount,
			MaxCleanupCount:  cfg.Memory.Cleanup.MaxCleanupCount,
			RetentionDays:    cfg.Memory.Cleanup.RetentionDays,
		},
	}
}

func buildProviders(cfg *config.Config) []provider.Provider {
	var out []provider.Provider
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		command := pc.Command
		if command == "" {
			command = name
		}
		out = append(out, provider.NewCLIProvider(provider.CLIOptions{
			Name:     name,
			Command:  command,
			Priority: pc.Priority,
			Timeout:  time.Duration(pc.Timeout) * time.Millisecond,
			Logger:   logger.Named("provider"),
		}))
	}
	return out
}

func resolvePath(projectRoot, configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	if pathutil.IsAbsolute(configured) {
		return configured
	}
	return filepath.Join(projectRoot, configured)
}
