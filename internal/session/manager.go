package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults.
const (
	DefaultMaxSessions = 100
	DefaultMaxAgeDays  = 7
	DefaultDebounce    = 100 * time.Millisecond
)

// Options configures a Manager.
type Options struct {
	Path        string // journal file path
	MaxSessions int
	MaxAgeDays  int           // terminal sessions older than this are swept
	Debounce    time.Duration // journal write coalescing window
	Logger      zerolog.Logger
}

// Manager keeps sessions in memory and journals them to disk. Mutations mark
// the journal dirty; a debounced writer coalesces bursts into a single
// atomic tmp+rename write.
type Manager struct {
	opts    Options
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	writeMu sync.Mutex
	timer   *time.Timer
	closed  bool
}

type journalFile struct {
	Sessions []*Session `json:"sessions"`
}

// NewManager loads the journal at opts.Path, or starts empty when missing.
// A corrupted journal is set aside rather than discarded.
func NewManager(opts Options) (*Manager, error) {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = DefaultMaxAgeDays
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		nowFunc:  time.Now,
		sessions: make(map[string]*Session),
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.opts.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &Error{Code: ErrCodePersistence, Message: fmt.Sprintf("read journal: %v", err), Cause: err}
	}

	var file struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		// Keep the damaged file for inspection and start over
		aside := fmt.Sprintf("%s.corrupted.%d", m.opts.Path, m.nowFunc().Unix())
		if renameErr := os.Rename(m.opts.Path, aside); renameErr != nil {
			m.logger.Warn().Err(renameErr).Msg("failed to set aside corrupted session journal")
		}
		m.logger.Warn().Err(err).Str("savedAs", aside).Msg("session journal corrupted, starting empty")
		return nil
	}

	// One bad record must not cost the rest of the journal. Decode and
	// validate each session individually and skip the invalid ones.
	skipped := 0
	for _, raw := range file.Sessions {
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			m.logger.Warn().Err(err).Msg("skipping undecodable session record")
			skipped++
			continue
		}
		if err := validateRecord(&s); err != nil {
			m.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("skipping invalid session record")
			skipped++
			continue
		}
		m.sessions[s.ID] = &s
	}
	if skipped > 0 {
		m.logger.Warn().Int("skipped", skipped).Msg("session journal had invalid records")
	}
	m.logger.Debug().Int("sessions", len(m.sessions)).Msg("session journal loaded")
	return nil
}

func validateRecord(s *Session) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		return fmt.Errorf("session %s has unparseable timestamps", s.ID)
	}
	switch s.Status {
	case StatusActive, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}
}

// Create starts a new session. When the store is at capacity, terminal
// sessions are evicted first (oldest updatedAt), then the oldest active one.
// Terminal sessions older than MaxAgeDays are swept on every create.
func (m *Manager) Create(initiator, task string, metadata map[string]any) (*Session, error) {
	if err := checkMetadataSize(metadata); err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := m.nowFunc().UTC()

	for len(m.sessions) >= m.opts.MaxSessions {
		victim := m.evictionCandidateLocked()
		if victim == "" {
			break
		}
		delete(m.sessions, victim)
		m.logger.Debug().Str("sessionId", victim).Msg("session evicted at capacity")
	}

	s := &Session{
		ID:        uuid.NewString(),
		Initiator: initiator,
		Task:      task,
		Status:    StatusActive,
		Agents:    []string{initiator},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s

	m.sweepTerminalLocked(now.AddDate(0, 0, -m.opts.MaxAgeDays))

	out := cloneSession(s)
	m.mu.Unlock()

	m.scheduleWrite()
	return out, nil
}

// SweepTerminal removes terminal sessions not updated within maxAgeDays and
// returns how many were removed. Zero uses the configured retention.
func (m *Manager) SweepTerminal(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		maxAgeDays = m.opts.MaxAgeDays
	}

	m.mu.Lock()
	removed := m.sweepTerminalLocked(m.nowFunc().UTC().AddDate(0, 0, -maxAgeDays))
	m.mu.Unlock()

	if removed > 0 {
		m.scheduleWrite()
	}
	return removed
}

func (m *Manager) sweepTerminalLocked(cutoff time.Time) int {
	removed := 0
	for id, s := range m.sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// evictionCandidateLocked picks the terminal session with the oldest
// updatedAt, falling back to the oldest session of any status.
func (m *Manager) evictionCandidateLocked() string {
	var (
		bestID       string
		bestAt       time.Time
		bestTerminal bool
	)
	for id, s := range m.sessions {
		terminal := s.Status.Terminal()
		if bestID == "" ||
			(terminal && !bestTerminal) ||
			(terminal == bestTerminal && s.UpdatedAt.Before(bestAt)) {
			bestID, bestAt, bestTerminal = id, s.UpdatedAt, terminal
		}
	}
	return bestID
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &Error{Code: ErrCodeSessionNotFound, Message: fmt.Sprintf("session %s not found", id)}
	}
	return cloneSession(s), nil
}

// AddAgent joins an agent to the session. Adding an agent already present is
// a no-op.
func (m *Manager) AddAgent(id, agent string) error {
	return m.mutate(id, func(s *Session) error {
		for _, a := range s.Agents {
			if a == agent {
				return nil
			}
		}
		s.Agents = append(s.Agents, agent)
		return nil
	})
}

// Complete marks an active session completed.
func (m *Manager) Complete(id string) error {
	return m.transition(id, StatusCompleted)
}

// Fail marks an active session failed.
func (m *Manager) Fail(id string) error {
	return m.transition(id, StatusFailed)
}

func (m *Manager) transition(id string, to Status) error {
	return m.mutate(id, func(s *Session) error {
		if s.Status.Terminal() {
			return &Error{
				Code:    ErrCodeSessionTerminal,
				Message: fmt.Sprintf("session %s is already %s", id, s.Status),
			}
		}
		s.Status = to
		return nil
	})
}

// UpdateMetadata merges fields into the session metadata, bounded at
// MaxMetadataBytes after the merge.
func (m *Manager) UpdateMetadata(id string, fields map[string]any) error {
	return m.mutate(id, func(s *Session) error {
		merged := make(map[string]any, len(s.Metadata)+len(fields))
		for k, v := range s.Metadata {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		if err := checkMetadataSize(merged); err != nil {
			return err
		}
		s.Metadata = merged
		return nil
	})
}

// List returns sessions newest first, optionally filtered by status.
func (m *Manager) List(status Status) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// GetActiveSessionsForAgent returns the active sessions the agent
// participates in, newest first.
func (m *Manager) GetActiveSessionsForAgent(agent string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		for _, a := range s.Agents {
			if a == agent {
				out = append(out, cloneSession(s))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Flush writes the journal immediately, cancelling any pending debounce.
func (m *Manager) Flush() error {
	m.writeMu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.writeMu.Unlock()
	return m.persist()
}

// Close flushes and stops the writer. The manager must not be used after.
func (m *Manager) Close() error {
	m.writeMu.Lock()
	if m.closed {
		m.writeMu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.writeMu.Unlock()
	return m.persist()
}

func (m *Manager) mutate(id string, fn func(*Session) error) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return &Error{Code: ErrCodeSessionNotFound, Message: fmt.Sprintf("session %s not found", id)}
	}
	if err := fn(s); err != nil {
		m.mu.Unlock()
		return err
	}
	s.UpdatedAt = m.nowFunc().UTC()
	m.mu.Unlock()

	m.scheduleWrite()
	return nil
}

func (m *Manager) scheduleWrite() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Reset(m.opts.Debounce)
		return
	}
	m.timer = time.AfterFunc(m.opts.Debounce, func() {
		m.writeMu.Lock()
		m.timer = nil
		m.writeMu.Unlock()
		if err := m.persist(); err != nil {
			m.logger.Error().Err(err).Msg("session journal write failed")
		}
	})
}

func (m *Manager) persist() error {
	m.mu.Lock()
	file := journalFile{Sessions: make([]*Session, 0, len(m.sessions))}
	for _, s := range m.sessions {
		file.Sessions = append(file.Sessions, cloneSession(s))
	}
	m.mu.Unlock()

	sort.Slice(file.Sessions, func(i, j int) bool {
		return file.Sessions[i].CreatedAt.Before(file.Sessions[j].CreatedAt)
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return &Error{Code: ErrCodePersistence, Message: fmt.Sprintf("encode journal: %v", err), Cause: err}
	}

	if dir := filepath.Dir(m.opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &Error{Code: ErrCodePersistence, Message: fmt.Sprintf("create journal directory: %v", err), Cause: err}
		}
	}

	tmp := fmt.Sprintf("%s.tmp.%d", m.opts.Path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &Error{Code: ErrCodePersistence, Message: fmt.Sprintf("write journal: %v", err), Cause: err}
	}
	if err := os.Rename(tmp, m.opts.Path); err != nil {
		os.Remove(tmp)
		return &Error{Code: ErrCodePersistence, Message: fmt.Sprintf("replace journal: %v", err), Cause: err}
	}
	return nil
}

func checkMetadataSize(md map[string]any) error {
	if len(md) == 0 {
		return nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return &Error{Code: ErrCodeMetadataTooLarge, Message: fmt.Sprintf("metadata not serializable: %v", err), Cause: err}
	}
	if len(data) > MaxMetadataBytes {
		return &Error{
			Code:    ErrCodeMetadataTooLarge,
			Message: fmt.Sprintf("metadata is %d bytes, limit is %d", len(data), MaxMetadataBytes),
		}
	}
	return nil
}

func cloneSession(s *Session) *Session {
	out := *s
	out.Agents = append([]string(nil), s.Agents...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
