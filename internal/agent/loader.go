package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"automatosx/internal/cache"
)

// Loader reads agent profiles from <data>/agents/<name>.yaml, applying team
// defaults from <data>/teams/<team>.yaml. Loaded profiles are cached with a
// TTL; profiles are immutable after load.
type Loader struct {
	agentsDir string
	teamsDir  string
	cache     *cache.Cache[*AgentProfile]
	teamCache *cache.Cache[*Team]
	logger    zerolog.Logger
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	AgentsDir string
	TeamsDir  string
	CacheTTL  time.Duration // 0 means 5 minutes
	Logger    zerolog.Logger
}

// NewLoader creates a profile Loader.
func NewLoader(opts LoaderOptions) *Loader {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Loader{
		agentsDir: opts.AgentsDir,
		teamsDir:  opts.TeamsDir,
		cache:     cache.New[*AgentProfile](cache.Options{TTL: ttl, MaxEntries: 256}),
		teamCache: cache.New[*Team](cache.Options{TTL: ttl, MaxEntries: 64}),
		logger:    opts.Logger,
	}
}

// LoadProfile loads a single profile by name.
func (l *Loader) LoadProfile(name string) (*AgentProfile, error) {
	if !ValidName(name) {
		return nil, &Error{Code: ErrCodeInvalidAgentName, Message: fmt.Sprintf("invalid agent name %q", name)}
	}

	if p, ok := l.cache.Get(name); ok {
		return p, nil
	}

	path := filepath.Join(l.agentsDir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &Error{Code: ErrCodeProfileNotFound, Message: fmt.Sprintf("agent %q not found", name)}
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var profile AgentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, &Error{Code: ErrCodeInvalidProfile, Message: fmt.Sprintf("agent %q: %v", name, err)}
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if profile.Name != name {
		return nil, &Error{Code: ErrCodeInvalidProfile, Message: fmt.Sprintf("profile file %s declares name %q", path, profile.Name)}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if profile.Orchestration != nil && len(profile.Orchestration.CanDelegateTo) > 0 {
		l.logger.Debug().
			Str("agent", name).
			Strs("canDelegateTo", profile.Orchestration.CanDelegateTo).
			Msg("canDelegateTo whitelist is deprecated and not enforced")
	}

	if profile.Team != "" {
		team, err := l.loadTeam(profile.Team)
		if err != nil {
			l.logger.Warn().Str("agent", name).Str("team", profile.Team).Err(err).Msg("team defaults not applied")
		} else {
			applyTeam(&profile, team)
		}
	}

	l.cache.Set(name, &profile, len(data))
	return &profile, nil
}

// GetAllProfiles loads every profile in the agents directory, sorted by
// name. Invalid profile files are skipped with a warning.
func (l *Loader) GetAllProfiles() ([]*AgentProfile, error) {
	entries, err := os.ReadDir(l.agentsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	var profiles []*AgentProfile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		p, err := l.LoadProfile(name)
		if err != nil {
			l.logger.Warn().Str("file", e.Name()).Err(err).Msg("skipping invalid profile")
			continue
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// Invalidate drops a profile from the cache, forcing a reload on next use.
func (l *Loader) Invalidate(name string) {
	l.cache.Delete(name)
}

func (l *Loader) loadTeam(name string) (*Team, error) {
	if t, ok := l.teamCache.Get(name); ok {
		return t, nil
	}

	path := filepath.Join(l.teamsDir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team %s: %w", path, err)
	}

	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return nil, fmt.Errorf("parse team %s: %w", path, err)
	}
	if team.Name == "" {
		team.Name = name
	}

	l.teamCache.Set(name, &team, len(data))
	return &team, nil
}
