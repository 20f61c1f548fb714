// Package ability loads and caches agent ability documents.
//
// An ability is a markdown document under <data>/abilities/<name>.md, capped
// at 500 KiB. Loaded abilities are cached with a TTL; a filesystem watcher
// invalidates cached entries when their backing file changes.
package ability

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"automatosx/internal/cache"
)

// MaxAbilitySize is the per-file size ceiling (500 KiB).
const MaxAbilitySize = 500 * 1024

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrorCode defines ability error codes.
type ErrorCode string

const (
	ErrCodeInvalidAbilityName ErrorCode = "INVALID_ABILITY_NAME"
	ErrCodeAbilityNotFound    ErrorCode = "ABILITY_NOT_FOUND"
	ErrCodeAbilityTooLarge    ErrorCode = "ABILITY_TOO_LARGE"
)

// Error is a structured ability error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// CodeOf extracts the ability error code, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Manager loads ability documents with caching.
type Manager struct {
	dir        string
	builtinDir string // fallback when a name is missing from dir
	cache      *cache.Cache[string]
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Dir        string
	BuiltinDir string
	CacheTTL   time.Duration // 0 means 5 minutes
	Watch      bool          // invalidate cache entries on file change
	Logger     zerolog.Logger
}

// NewManager creates an ability Manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	m := &Manager{
		dir:        opts.Dir,
		builtinDir: opts.BuiltinDir,
		cache:      cache.New[string](cache.Options{TTL: ttl, MaxEntries: 256, MaxBytes: 64 * 1024 * 1024}),
		logger:     opts.Logger,
	}

	if opts.Watch {
		if err := m.startWatcher(); err != nil {
			// Watching is best effort; the TTL still bounds staleness
			m.logger.Warn().Err(err).Msg("ability watcher unavailable")
		}
	}

	return m, nil
}

// LoadAbility returns the content of a single ability.
func (m *Manager) LoadAbility(name string) (string, error) {
	if !nameRE.MatchString(name) {
		return "", &Error{Code: ErrCodeInvalidAbilityName, Message: fmt.Sprintf("invalid ability name %q", name)}
	}

	if content, ok := m.cache.Get(name); ok {
		return content, nil
	}

	content, err := m.readAbility(name)
	if err != nil {
		return "", err
	}

	m.cache.Set(name, content, len(content))
	return content, nil
}

// LoadAbilities loads several abilities, preserving order. Missing abilities
// are skipped with a warning; other errors propagate.
func (m *Manager) LoadAbilities(names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		content, err := m.LoadAbility(name)
		if err != nil {
			if CodeOf(err) == ErrCodeAbilityNotFound {
				m.logger.Warn().Str("ability", name).Msg("ability not found, skipping")
				continue
			}
			return nil, err
		}
		out[name] = content
	}
	return out, nil
}

// GetAbilitiesText concatenates abilities into a single prompt section, each
// under a "## <name>" heading, in the given order.
func (m *Manager) GetAbilitiesText(names []string) (string, error) {
	loaded, err := m.LoadAbilities(names)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range names {
		content, ok := loaded[name]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(name)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(content))
	}
	return b.String(), nil
}

// Close stops the watcher if running.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) readAbility(name string) (string, error) {
	for _, dir := range []string{m.dir, m.builtinDir} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name+".md")

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat ability %s: %w", path, err)
		}
		if info.Size() > MaxAbilitySize {
			return "", &Error{
				Code:    ErrCodeAbilityTooLarge,
				Message: fmt.Sprintf("ability %q is %d bytes, limit is %d", name, info.Size(), MaxAbilitySize),
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read ability %s: %w", path, err)
		}
		return string(data), nil
	}

	return "", &Error{Code: ErrCodeAbilityNotFound, Message: fmt.Sprintf("ability %q not found", name)}
}

func (m *Manager) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return err
	}
	m.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
					continue
				}
				base := filepath.Base(ev.Name)
				if !strings.HasSuffix(base, ".md") {
					continue
				}
				name := strings.TrimSuffix(base, ".md")
				m.cache.Delete(name)
				m.logger.Debug().Str("ability", name).Msg("ability cache invalidated")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn().Err(err).Msg("ability watcher error")
			}
		}
	}()

	return nil
}
