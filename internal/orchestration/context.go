// Package orchestration executes agents: context assembly, provider routing
// with retries, delegation parsing and dispatch, and the parallel batch
// scheduler.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"automatosx/internal/ability"
	"automatosx/internal/agent"
	"automatosx/internal/memory"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/workspace"
)

const defaultMemoryResults = 5

// AgentSummary is the delegation-facing view of a peer agent.
type AgentSummary struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// OrchestrationInfo is present on a context only when delegation is actually
// possible: there are peers to delegate to and depth allows another hop.
type OrchestrationInfo struct {
	AvailableAgents    []AgentSummary `json:"availableAgents"`
	MaxDelegationDepth int            `json:"maxDelegationDepth"`
}

// ExecutionContext carries everything one agent execution needs.
type ExecutionContext struct {
	Agent           *agent.AgentProfile
	Task            string
	AbilitiesText   string
	MemoryResults   []memory.SearchResult
	Provider        provider.Provider
	WorkspaceDir    string
	Session         *session.Session
	DelegationChain []string // agents upstream of this execution, oldest first
	Orchestration   *OrchestrationInfo
	CreatedAt       time.Time
}

// Depth returns how many delegation hops preceded this execution.
func (ec *ExecutionContext) Depth() int {
	return len(ec.DelegationChain)
}

// Initiator returns the agent that started the delegation chain.
func (ec *ExecutionContext) Initiator() string {
	if len(ec.DelegationChain) > 0 {
		return ec.DelegationChain[0]
	}
	return ec.Agent.Name
}

// ContextOptions tune context assembly.
type ContextOptions struct {
	SessionID       string
	DelegationChain []string
	SkipMemory      bool
}

// ContextManager assembles execution contexts from the profile loader,
// ability store, memory, router, session and workspace managers.
type ContextManager struct {
	loader     *agent.Loader
	abilities  *ability.Manager
	memory     *memory.Manager
	router     *provider.Router
	sessions   *session.Manager
	workspaces *workspace.Manager
	logger     zerolog.Logger

	nowFunc func() time.Time
}

// ContextManagerOptions wires a ContextManager.
type ContextManagerOptions struct {
	Loader     *agent.Loader
	Abilities  *ability.Manager
	Memory     *memory.Manager
	Router     *provider.Router
	Sessions   *session.Manager
	Workspaces *workspace.Manager
	Logger     zerolog.Logger
}

// NewContextManager creates a ContextManager.
func NewContextManager(opts ContextManagerOptions) *ContextManager {
	return &ContextManager{
		loader:     opts.Loader,
		abilities:  opts.Abilities,
		memory:     opts.Memory,
		router:     opts.Router,
		sessions:   opts.Sessions,
		workspaces: opts.Workspaces,
		logger:     opts.Logger,
		nowFunc:    time.Now,
	}
}

// CreateContext assembles the execution context for one agent and task.
// Memory and orchestration info are best effort; profile, provider, and
// session resolution failures propagate.
func (cm *ContextManager) CreateContext(ctx context.Context, agentName, task string, opts ContextOptions) (*ExecutionContext, error) {
	profile, err := cm.loader.LoadProfile(agentName)
	if err != nil {
		return nil, err
	}

	abilitiesText, err := cm.abilities.GetAbilitiesText(profile.Abilities)
	if err != nil {
		return nil, err
	}

	var memResults []memory.SearchResult
	if cm.memory != nil && !opts.SkipMemory {
		memResults, err = cm.memory.Search(ctx, memory.SearchQuery{Text: task, Limit: defaultMemoryResults})
		if err != nil {
			// Memory enrichment never blocks an execution
			cm.logger.Warn().Err(err).Str("agent", agentName).Msg("memory search failed")
			memResults = nil
		}
	}

	selected, err := cm.router.SelectProvider(ctx)
	if err != nil {
		return nil, err
	}

	wsDir, err := cm.workspaces.AgentDir(agentName)
	if err != nil {
		return nil, err
	}

	var sess *session.Session
	if opts.SessionID != "" {
		sess, err = cm.sessions.Get(opts.SessionID)
		if err != nil {
			return nil, err
		}
		if err := cm.sessions.AddAgent(sess.ID, agentName); err != nil {
			return nil, err
		}
	}

	ec := &ExecutionContext{
		Agent:           profile,
		Task:            task,
		AbilitiesText:   abilitiesText,
		MemoryResults:   memResults,
		Provider:        selected,
		WorkspaceDir:    wsDir,
		Session:         sess,
		DelegationChain: append([]string(nil), opts.DelegationChain...),
		CreatedAt:       cm.nowFunc(),
	}
	ec.Orchestration = cm.orchestrationInfo(ec)

	cm.logger.Debug().
		Str("agent", agentName).
		Str("provider", selected.Name()).
		Int("memoryResults", len(memResults)).
		Int("depth", ec.Depth()).
		Msg("execution context created")

	return ec, nil
}

// orchestrationInfo lists the peers this execution may delegate to. Returns
// nil when delegation is impossible: depth exhausted or no other agents.
func (cm *ContextManager) orchestrationInfo(ec *ExecutionContext) *OrchestrationInfo {
	initiatorDepth, err := cm.initiatorMaxDepth(ec)
	if err != nil {
		cm.logger.Warn().Err(err).Msg("initiator profile unavailable, delegation disabled")
		return nil
	}
	if ec.Depth() >= initiatorDepth {
		return nil
	}

	profiles, err := cm.loader.GetAllProfiles()
	if err != nil {
		cm.logger.Warn().Err(err).Msg("agent listing failed, delegation disabled")
		return nil
	}

	var peers []AgentSummary
	for _, p := range profiles {
		if p.Name == ec.Agent.Name {
			continue
		}
		peers = append(peers, AgentSummary{Name: p.Name, Role: p.Role, Description: p.Description})
	}
	if len(peers) == 0 {
		return nil
	}

	return &OrchestrationInfo{AvailableAgents: peers, MaxDelegationDepth: initiatorDepth}
}

// initiatorMaxDepth resolves the delegation depth limit from the chain
// initiator's profile, so a deep profile cannot extend a shallow chain.
func (cm *ContextManager) initiatorMaxDepth(ec *ExecutionContext) (int, error) {
	name := ec.Initiator()
	if name == ec.Agent.Name {
		return ec.Agent.MaxDelegationDepth(), nil
	}
	p, err := cm.loader.LoadProfile(name)
	if err != nil {
		return 0, fmt.Errorf("load initiator %s: %w", name, err)
	}
	return p.MaxDelegationDepth(), nil
}
