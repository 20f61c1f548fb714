// Package memory provides the embedded full-text-searchable memory store.
package memory

import (
	"fmt"
	"time"
)

// EntryType classifies a memory entry.
type EntryType string

// Entry types.
const (
	TypeConversation EntryType = "conversation"
	TypeCode         EntryType = "code"
	TypeDocument     EntryType = "document"
	TypeTask         EntryType = "task"
	TypeOther        EntryType = "other"
)

// Metadata describes a memory entry. Extra carries forward-compatible
// scalar fields that the core does not interpret.
type Metadata struct {
	Type       EntryType         `json:"type"`
	Source     string            `json:"source"`
	AgentID    string            `json:"agentId,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Importance float64           `json:"importance,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Entry is a stored memory record.
type Entry struct {
	ID             int64      `json:"id"`
	Content        string     `json:"content"`
	Metadata       Metadata   `json:"metadata"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	AccessCount    int        `json:"accessCount"`
}

// Filters restrict search, export, and listing. All set fields must match.
type Filters struct {
	Types         []EntryType `json:"types,omitempty"`
	Sources       []string    `json:"sources,omitempty"`
	AgentID       string      `json:"agentId,omitempty"`
	SessionID     string      `json:"sessionId,omitempty"`
	Tags          []string    `json:"tags,omitempty"` // every tag must be present
	DateFrom      *time.Time  `json:"dateFrom,omitempty"`
	DateTo        *time.Time  `json:"dateTo,omitempty"`
	MinImportance *float64    `json:"minImportance,omitempty"`
}

// Match reports whether an entry passes every set filter.
func (f *Filters) Match(e *Entry) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Metadata.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Metadata.Source) {
		return false
	}
	if f.AgentID != "" && e.Metadata.AgentID != f.AgentID {
		return false
	}
	if f.SessionID != "" && e.Metadata.SessionID != f.SessionID {
		return false
	}
	for _, tag := range f.Tags {
		if !containsString(e.Metadata.Tags, tag) {
			return false
		}
	}
	if f.DateFrom != nil && e.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.CreatedAt.After(*f.DateTo) {
		return false
	}
	if f.MinImportance != nil && e.Metadata.Importance < *f.MinImportance {
		return false
	}
	return true
}

func containsType(list []EntryType, v EntryType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SearchQuery is a full-text search request.
type SearchQuery struct {
	Text      string   `json:"text"`
	Filters   *Filters `json:"filters,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"` // drop results below this similarity
}

// SearchResult pairs an entry with its similarity in [0,1].
type SearchResult struct {
	Entry      Entry   `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// Stats summarizes the store.
type Stats struct {
	TotalEntries int   `json:"totalEntries"`
	DBSizeBytes  int64 `json:"dbSizeBytes"`
}

// CleanupStrategy selects which entries smart cleanup evicts first.
type CleanupStrategy string

// Cleanup strategies.
const (
	StrategyOldest        CleanupStrategy = "oldest"
	StrategyLeastAccessed CleanupStrategy = "least_accessed"
	StrategyHybrid        CleanupStrategy = "hybrid"
)

// Config configures a Manager.
type Config struct {
	Path        string // database file path
	MaxEntries  int
	TrackAccess bool
	Cleanup     CleanupConfig
}

// CleanupConfig bounds smart cleanup.
type CleanupConfig struct {
	Enabled          bool
	Strategy         CleanupStrategy
	TriggerThreshold float64 // cleanup starts at entryCount/maxEntries >= trigger
	TargetThreshold  float64 // cleanup evicts down to target*maxEntries
	MinCleanupCount  int
	MaxCleanupCount  int
	RetentionDays    int
}

// Validate checks cleanup bounds.
func (c Config) Validate() error {
	if c.MaxEntries < 1 {
		return configError("maxEntries must be >= 1, got %d", c.MaxEntries)
	}
	cl := c.Cleanup
	if !cl.Enabled {
		return nil
	}
	if cl.TriggerThreshold < 0.5 || cl.TriggerThreshold > 1.0 {
		return configError("triggerThreshold must be in [0.5, 1.0], got %v", cl.TriggerThreshold)
	}
	if cl.TargetThreshold < 0.1 || cl.TargetThreshold > 0.9 {
		return configError("targetThreshold must be in [0.1, 0.9], got %v", cl.TargetThreshold)
	}
	if cl.TargetThreshold >= cl.TriggerThreshold {
		return configError("targetThreshold %v must be below triggerThreshold %v", cl.TargetThreshold, cl.TriggerThreshold)
	}
	if cl.MinCleanupCount < 1 {
		return configError("minCleanupCount must be >= 1, got %d", cl.MinCleanupCount)
	}
	if cl.MaxCleanupCount < cl.MinCleanupCount {
		return configError("maxCleanupCount %d must be >= minCleanupCount %d", cl.MaxCleanupCount, cl.MinCleanupCount)
	}
	if cl.RetentionDays < 1 {
		return configError("retentionDays must be >= 1, got %d", cl.RetentionDays)
	}
	switch cl.Strategy {
	case StrategyOldest, StrategyLeastAccessed, StrategyHybrid:
	default:
		return configError("unknown cleanup strategy %q", cl.Strategy)
	}
	return nil
}

func configError(format string, args ...any) error {
	return &Error{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...)}
}
