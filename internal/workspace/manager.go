// Package workspace manages per-agent scratch directories, PRD output, and
// temp file hygiene.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"automatosx/internal/pathutil"
)

var agentNameRE = regexp.MustCompile(`^[a-z][a-z0-9-]{1,49}$`)

// ErrorCode defines workspace error codes.
type ErrorCode string

const (
	ErrCodeInvalidAgentName ErrorCode = "INVALID_AGENT_NAME"
	ErrCodePathEscape       ErrorCode = "WORKSPACE_PATH_ESCAPE"
	ErrCodeIO               ErrorCode = "WORKSPACE_IO_ERROR"
)

// Error is a structured workspace error.
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

// CodeOf extracts the workspace error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// Options configures a Manager.
type Options struct {
	Root   string // workspaces directory
	PRDDir string
	TmpDir string
	Logger zerolog.Logger
}

// Manager hands out isolated per-agent directories. Every file operation is
// confined to the agent's workspace; relative paths that escape it are
// rejected.
type Manager struct {
	root   string
	prdDir string
	tmpDir string
	logger zerolog.Logger
}

// NewManager creates the workspace root and helper directories.
func NewManager(opts Options) (*Manager, error) {
	for _, dir := range []string{opts.Root, opts.PRDDir, opts.TmpDir} {
		if dir == "" {
			continue
		}
		if err := pathutil.EnsureDir(dir); err != nil {
			return nil, &Error{Code: ErrCodeIO, Message: err.Error(), Cause: err}
		}
	}
	return &Manager{
		root:   opts.Root,
		prdDir: opts.PRDDir,
		tmpDir: opts.TmpDir,
		logger: opts.Logger,
	}, nil
}

// AgentDir returns (and creates) the workspace directory for an agent.
func (m *Manager) AgentDir(agent string) (string, error) {
	if !agentNameRE.MatchString(agent) {
		return "", &Error{Code: ErrCodeInvalidAgentName, Message: fmt.Sprintf("invalid agent name %q", agent)}
	}
	dir := filepath.Join(m.root, agent)
	if err := pathutil.EnsureDir(dir); err != nil {
		return "", &Error{Code: ErrCodeIO, Message: err.Error(), Cause: err}
	}
	return dir, nil
}

// WriteFile writes data to a path relative to the agent's workspace,
// creating parent directories as needed. Returns the absolute path.
func (m *Manager) WriteFile(agent, rel string, data []byte) (string, error) {
	path, err := m.resolve(agent, rel)
	if err != nil {
		return "", err
	}
	if err := pathutil.EnsureDir(filepath.Dir(path)); err != nil {
		return "", &Error{Code: ErrCodeIO, Message: err.Error(), Cause: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &Error{Code: ErrCodeIO, Message: fmt.Sprintf("write %s: %v", path, err), Cause: err}
	}
	return path, nil
}

// ReadFile reads a path relative to the agent's workspace.
func (m *Manager) ReadFile(agent, rel string) ([]byte, error) {
	path, err := m.resolve(agent, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeIO, Message: fmt.Sprintf("read %s: %v", path, err), Cause: err}
	}
	return data, nil
}

// ListFiles returns workspace-relative paths of all files under the agent's
// workspace, in stored (forward-slash) form.
func (m *Manager) ListFiles(agent string) ([]string, error) {
	dir, err := m.AgentDir(agent)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, pathutil.ToStored(rel))
		return nil
	})
	if err != nil {
		return nil, &Error{Code: ErrCodeIO, Message: fmt.Sprintf("list workspace: %v", err), Cause: err}
	}
	return out, nil
}

// Cleanup removes an agent's entire workspace.
func (m *Manager) Cleanup(agent string) error {
	dir, err := m.AgentDir(agent)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return &Error{Code: ErrCodeIO, Message: fmt.Sprintf("remove workspace: %v", err), Cause: err}
	}
	m.logger.Debug().Str("agent", agent).Msg("workspace removed")
	return nil
}

// SavePRD writes a product document under the PRD directory.
func (m *Manager) SavePRD(name string, content []byte) (string, error) {
	base := filepath.Base(name)
	path := filepath.Join(m.prdDir, base)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &Error{Code: ErrCodeIO, Message: fmt.Sprintf("write PRD: %v", err), Cause: err}
	}
	return path, nil
}

// TmpDir returns the shared temp directory.
func (m *Manager) TmpDir() string {
	return m.tmpDir
}

// CleanupTmp removes temp files older than maxAge. Returns the number of
// files removed.
func (m *Manager) CleanupTmp(maxAge time.Duration) (int, error) {
	if m.tmpDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.tmpDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &Error{Code: ErrCodeIO, Message: fmt.Sprintf("read tmp dir: %v", err), Cause: err}
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.tmpDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("tmp cleanup failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Msg("tmp files cleaned")
	}
	return removed, nil
}

func (m *Manager) resolve(agent, rel string) (string, error) {
	dir, err := m.AgentDir(agent)
	if err != nil {
		return "", err
	}
	if pathutil.IsAbsolute(rel) {
		return "", &Error{Code: ErrCodePathEscape, Message: fmt.Sprintf("path %q must be relative", rel)}
	}
	path := filepath.Join(dir, pathutil.FromStored(rel))
	if !pathutil.IsWithin(dir, path) {
		return "", &Error{Code: ErrCodePathEscape, Message: fmt.Sprintf("path %q escapes the workspace", rel)}
	}
	return path, nil
}
