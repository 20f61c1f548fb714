package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Memory.MaxEntries)
	assert.Equal(t, 100, cfg.Sessions.MaxSessions)
	assert.True(t, cfg.Execution.FallbackEnabled)
	assert.True(t, cfg.Execution.ContinueDelegationsOnFailure)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{
		"providers": {
			"claude": {"enabled": true, "priority": 1, "timeout": 120000, "command": "claude"}
		},
		"memory": {"maxEntries": 500},
		"logging": {"level": "debug"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Memory.MaxEntries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	p, ok := cfg.Providers["claude"]
	require.True(t, ok)
	assert.Equal(t, 1, p.Priority)
	assert.Equal(t, "claude", p.Command)
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"low provider timeout", func(c *Config) {
			c.Providers["p"] = ProviderConfig{Enabled: true, Timeout: 500}
		}},
		{"no enabled provider", func(c *Config) {
			c.Providers["p"] = ProviderConfig{Enabled: false}
		}},
		{"low maxEntries", func(c *Config) { c.Memory.MaxEntries = 99 }},
		{"low cleanupDays", func(c *Config) { c.Memory.CleanupDays = 0 }},
		{"low tmpCleanupDays", func(c *Config) { c.Workspace.TmpCleanupDays = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"low maxConcurrentAgents", func(c *Config) { c.Execution.MaxConcurrentAgents = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout("/proj")
	assert.Equal(t, filepath.Join("/proj", ".automatosx", "agents"), l.AgentsDir())
	assert.Equal(t, filepath.Join("/proj", ".automatosx", "memory", "memory.db"), l.MemoryDBPath())
	assert.Equal(t, filepath.Join("/proj", ".automatosx", "sessions", "sessions.json"), l.SessionsPath())
	assert.Equal(t, filepath.Join("/proj", ".automatosx", "checkpoints"), l.CheckpointsDir())
}
