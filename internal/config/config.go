// Package config loads and validates automatosx.config.json and resolves
// the .automatosx directory layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"automatosx/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
	Memory    MemoryConfig              `json:"memory" mapstructure:"memory"`
	Workspace WorkspaceConfig           `json:"workspace" mapstructure:"workspace"`
	Logging   logger.Config             `json:"logging" mapstructure:"logging"`
	Execution ExecutionConfig           `json:"execution" mapstructure:"execution"`
	Sessions  SessionsConfig            `json:"sessions" mapstructure:"sessions"`
}

// ProviderConfig configures a single provider adapter.
type ProviderConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower = preferred
	Timeout  int    `json:"timeout" mapstructure:"timeout"`   // ms, >= 1000
	Command  string `json:"command" mapstructure:"command"`
}

// MemoryConfig configures the memory manager.
type MemoryConfig struct {
	MaxEntries  int           `json:"maxEntries" mapstructure:"maxEntries"`
	PersistPath string        `json:"persistPath" mapstructure:"persistPath"`
	AutoCleanup bool          `json:"autoCleanup" mapstructure:"autoCleanup"`
	CleanupDays int           `json:"cleanupDays" mapstructure:"cleanupDays"`
	Cleanup     CleanupConfig `json:"cleanup" mapstructure:"cleanup"`
}

// CleanupConfig configures smart cleanup of memory entries.
type CleanupConfig struct {
	Enabled          bool    `json:"enabled" mapstructure:"enabled"`
	Strategy         string  `json:"strategy" mapstructure:"strategy"` // oldest, least_accessed, hybrid
	TriggerThreshold float64 `json:"triggerThreshold" mapstructure:"triggerThreshold"`
	TargetThreshold  float64 `json:"targetThreshold" mapstructure:"targetThreshold"`
	MinCleanupCount  int     `json:"minCleanupCount" mapstructure:"minCleanupCount"`
	MaxCleanupCount  int     `json:"maxCleanupCount" mapstructure:"maxCleanupCount"`
	RetentionDays    int     `json:"retentionDays" mapstructure:"retentionDays"`
}

// WorkspaceConfig configures shared workspace directories.
type WorkspaceConfig struct {
	PRDPath        string `json:"prdPath" mapstructure:"prdPath"`
	TmpPath        string `json:"tmpPath" mapstructure:"tmpPath"`
	AutoCleanupTmp bool   `json:"autoCleanupTmp" mapstructure:"autoCleanupTmp"`
	TmpCleanupDays int    `json:"tmpCleanupDays" mapstructure:"tmpCleanupDays"`
}

// RetryConfig configures retry behavior for executions.
type RetryConfig struct {
	MaxAttempts     int      `json:"maxAttempts" mapstructure:"maxAttempts"`
	InitialDelay    int      `json:"initialDelay" mapstructure:"initialDelay"` // ms
	MaxDelay        int      `json:"maxDelay" mapstructure:"maxDelay"`         // ms
	BackoffFactor   float64  `json:"backoffFactor" mapstructure:"backoffFactor"`
	RetryableErrors []string `json:"retryableErrors" mapstructure:"retryableErrors"`
}

// ExecutionConfig configures the executor and router.
type ExecutionConfig struct {
	MaxConcurrentAgents    int         `json:"maxConcurrentAgents" mapstructure:"maxConcurrentAgents"`
	DefaultRetry           RetryConfig `json:"defaultRetry" mapstructure:"defaultRetry"`
	DefaultTimeout         int         `json:"defaultTimeout" mapstructure:"defaultTimeout"`                 // ms, 0 = none
	DefaultStageTimeout    int         `json:"defaultStageTimeout" mapstructure:"defaultStageTimeout"`       // ms
	DefaultStageMaxRetries int         `json:"defaultStageMaxRetries" mapstructure:"defaultStageMaxRetries"` //
	FallbackEnabled        bool        `json:"fallbackEnabled" mapstructure:"fallbackEnabled"`
	ProviderCooldownMs     int         `json:"providerCooldownMs" mapstructure:"providerCooldownMs"`
	HealthCheckInterval    int         `json:"healthCheckInterval" mapstructure:"healthCheckInterval"` // ms, 0 = off
	// ContinueDelegationsOnFailure keeps a delegation batch going after one
	// delegation fails, skipping only its dependents. When false the batch
	// is cancelled and the failure propagates to the caller.
	ContinueDelegationsOnFailure bool `json:"continueDelegationsOnFailure" mapstructure:"continueDelegationsOnFailure"`
}

// SessionsConfig configures the session manager.
type SessionsConfig struct {
	MaxSessions int `json:"maxSessions" mapstructure:"maxSessions"`
}

// ConfigFileName is the top-level configuration file name.
const ConfigFileName = "automatosx.config.json"

// Load reads automatosx.config.json from the project root. A missing file
// yields the defaults.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(projectRoot, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{},
		Memory: MemoryConfig{
			MaxEntries:  10000,
			PersistPath: ".automatosx/memory/memory.db",
			AutoCleanup: true,
			CleanupDays: 30,
			Cleanup: CleanupConfig{
				Enabled:          true,
				Strategy:         "hybrid",
				TriggerThreshold: 0.9,
				TargetThreshold:  0.7,
				MinCleanupCount:  10,
				MaxCleanupCount:  1000,
				RetentionDays:    30,
			},
		},
		Workspace: WorkspaceConfig{
			PRDPath:        ".automatosx/PRD",
			TmpPath:        ".automatosx/tmp",
			AutoCleanupTmp: true,
			TmpCleanupDays: 7,
		},
		Logging: logger.Config{
			Level:   "info",
			Console: true,
		},
		Execution: ExecutionConfig{
			MaxConcurrentAgents: 4,
			DefaultRetry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  1000,
				MaxDelay:      30000,
				BackoffFactor: 2,
			},
			DefaultStageTimeout:          300000,
			DefaultStageMaxRetries:       1,
			FallbackEnabled:              true,
			ProviderCooldownMs:           60000,
			ContinueDelegationsOnFailure: true,
		},
		Sessions: SessionsConfig{
			MaxSessions: 100,
		},
	}
}

// Validate checks all configured bounds.
func (c *Config) Validate() error {
	enabled := 0
	for name, p := range c.Providers {
		if p.Enabled {
			enabled++
		}
		if p.Timeout != 0 && p.Timeout < 1000 {
			return fmt.Errorf("provider %q: timeout must be >= 1000ms, got %d", name, p.Timeout)
		}
	}
	if len(c.Providers) > 0 && enabled == 0 {
		return errors.New("at least one enabled provider is required")
	}

	if c.Memory.MaxEntries < 100 {
		return fmt.Errorf("memory.maxEntries must be >= 100, got %d", c.Memory.MaxEntries)
	}
	if c.Memory.CleanupDays < 1 {
		return fmt.Errorf("memory.cleanupDays must be >= 1, got %d", c.Memory.CleanupDays)
	}

	if c.Workspace.TmpCleanupDays < 1 {
		return fmt.Errorf("workspace.tmpCleanupDays must be >= 1, got %d", c.Workspace.TmpCleanupDays)
	}

	switch c.Logging.Level {
	case "", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("logging.level %q is not one of error/warn/info/debug/trace", c.Logging.Level)
	}

	if c.Execution.MaxConcurrentAgents < 1 {
		return fmt.Errorf("execution.maxConcurrentAgents must be >= 1, got %d", c.Execution.MaxConcurrentAgents)
	}

	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions.maxSessions must be >= 1, got %d", c.Sessions.MaxSessions)
	}

	return nil
}
