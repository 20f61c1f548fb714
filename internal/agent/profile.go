// Package agent defines agent profiles and their YAML loader.
package agent

import (
	"fmt"
	"regexp"
)

// DefaultMaxDelegationDepth bounds delegation chains when a profile does not
// set its own limit.
const DefaultMaxDelegationDepth = 2

var nameRE = regexp.MustCompile(`^[a-z][a-z0-9-]{1,49}$`)

// ValidName reports whether name is a valid agent name.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// Stage is one step of a profile's workflow pipeline.
type Stage struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	KeyQuestions []string `yaml:"key_questions,omitempty" json:"key_questions,omitempty"`
	Outputs      []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Timeout      int      `yaml:"timeout,omitempty" json:"timeout,omitempty"` // ms, 0 = config default
	MaxRetries   *int     `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	SaveToMemory bool     `yaml:"saveToMemory,omitempty" json:"saveToMemory,omitempty"`
	Checkpoint   bool     `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
}

// Orchestration configures delegation for a profile.
type Orchestration struct {
	MaxDelegationDepth int `yaml:"maxDelegationDepth,omitempty" json:"maxDelegationDepth,omitempty"`
	// CanDelegateTo is deprecated. It is logged for visibility but never
	// enforced; delegation safety reduces to cycle and depth checks.
	CanDelegateTo []string `yaml:"canDelegateTo,omitempty" json:"canDelegateTo,omitempty"`
}

// AgentProfile is an immutable named role configuration.
type AgentProfile struct {
	Name         string         `yaml:"name" json:"name"`
	DisplayName  string         `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Team         string         `yaml:"team,omitempty" json:"team,omitempty"`
	Role         string         `yaml:"role,omitempty" json:"role,omitempty"`
	Description  string         `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt string         `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	Abilities    []string       `yaml:"abilities,omitempty" json:"abilities,omitempty"`
	Model        string         `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature  *float64       `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens    int            `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`
	Stages       []Stage        `yaml:"stages,omitempty" json:"stages,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Orchestration *Orchestration `yaml:"orchestration,omitempty" json:"orchestration,omitempty"`
}

// MaxDelegationDepth returns the profile's delegation depth limit.
func (p *AgentProfile) MaxDelegationDepth() int {
	if p.Orchestration != nil && p.Orchestration.MaxDelegationDepth > 0 {
		return p.Orchestration.MaxDelegationDepth
	}
	return DefaultMaxDelegationDepth
}

// Validate checks the profile invariants: valid name and unique stage names.
func (p *AgentProfile) Validate() error {
	if !ValidName(p.Name) {
		return &Error{Code: ErrCodeInvalidAgentName, Message: fmt.Sprintf("invalid agent name %q", p.Name)}
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		if s.Name == "" {
			return &Error{Code: ErrCodeInvalidProfile, Message: fmt.Sprintf("agent %q has a stage without a name", p.Name)}
		}
		if _, dup := seen[s.Name]; dup {
			return &Error{Code: ErrCodeDuplicateStageName, Message: fmt.Sprintf("agent %q has duplicate stage %q", p.Name, s.Name)}
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Team carries per-team defaults applied to member profiles.
type Team struct {
	Name            string   `yaml:"name" json:"name"`
	DisplayName     string   `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	ProviderChain   []string `yaml:"providerChain,omitempty" json:"providerChain,omitempty"`
	SharedAbilities []string `yaml:"sharedAbilities,omitempty" json:"sharedAbilities,omitempty"`
	DefaultModel    string   `yaml:"defaultModel,omitempty" json:"defaultModel,omitempty"`
}

// applyTeam merges team defaults into a profile: shared abilities are
// prepended (deduplicated) and the default model fills an empty model.
func applyTeam(p *AgentProfile, t *Team) {
	if t == nil {
		return
	}

	if len(t.SharedAbilities) > 0 {
		have := make(map[string]struct{}, len(p.Abilities))
		for _, a := range p.Abilities {
			have[a] = struct{}{}
		}
		merged := make([]string, 0, len(t.SharedAbilities)+len(p.Abilities))
		for _, a := range t.SharedAbilities {
			if _, ok := have[a]; !ok {
				merged = append(merged, a)
			}
		}
		p.Abilities = append(merged, p.Abilities...)
	}

	if p.Model == "" && t.DefaultModel != "" {
		p.Model = t.DefaultModel
	}
}
