// Package config provides configuration path utilities.
package config

import "path/filepath"

// DataDirName is the per-project data directory.
const DataDirName = ".automatosx"

// Layout resolves every path under a project's .automatosx directory.
type Layout struct {
	ProjectRoot string
}

// NewLayout creates a Layout rooted at projectRoot.
func NewLayout(projectRoot string) Layout {
	return Layout{ProjectRoot: projectRoot}
}

// DataDir returns <root>/.automatosx.
func (l Layout) DataDir() string {
	return filepath.Join(l.ProjectRoot, DataDirName)
}

// AgentsDir returns the agent profile directory.
func (l Layout) AgentsDir() string {
	return filepath.Join(l.DataDir(), "agents")
}

// AbilitiesDir returns the abilities directory.
func (l Layout) AbilitiesDir() string {
	return filepath.Join(l.DataDir(), "abilities")
}

// TeamsDir returns the team defaults directory.
func (l Layout) TeamsDir() string {
	return filepath.Join(l.DataDir(), "teams")
}

// TemplatesDir returns the agent template directory.
func (l Layout) TemplatesDir() string {
	return filepath.Join(l.DataDir(), "templates")
}

// MemoryDBPath returns the embedded memory database path.
func (l Layout) MemoryDBPath() string {
	return filepath.Join(l.DataDir(), "memory", "memory.db")
}

// SessionsPath returns the session journal path.
func (l Layout) SessionsPath() string {
	return filepath.Join(l.DataDir(), "sessions", "sessions.json")
}

// CheckpointsDir returns the stage checkpoint directory.
func (l Layout) CheckpointsDir() string {
	return filepath.Join(l.DataDir(), "checkpoints")
}

// WorkspacesDir returns the per-agent workspace root.
func (l Layout) WorkspacesDir() string {
	return filepath.Join(l.DataDir(), "workspaces")
}

// PRDDir returns the shared PRD output directory.
func (l Layout) PRDDir() string {
	return filepath.Join(l.DataDir(), "PRD")
}

// TmpDir returns the shared temp directory.
func (l Layout) TmpDir() string {
	return filepath.Join(l.DataDir(), "tmp")
}

// LogsDir returns the log file directory.
func (l Layout) LogsDir() string {
	return filepath.Join(l.DataDir(), "logs")
}
