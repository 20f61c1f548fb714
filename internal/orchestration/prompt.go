package orchestration

import (
	"fmt"
	"strings"
)

// maxListedAgents caps the delegation roster in the prompt.
const maxListedAgents = 10

// AssemblePrompt renders the final provider prompt from an execution
// context. Pure function of its input; sections with no content are omitted.
func AssemblePrompt(ec *ExecutionContext) string {
	var b strings.Builder

	if sp := strings.TrimSpace(ec.Agent.SystemPrompt); sp != "" {
		b.WriteString(sp)
		b.WriteString("\n\n")
	}

	if ec.AbilitiesText != "" {
		b.WriteString("# Your Abilities\n\n")
		b.WriteString(ec.AbilitiesText)
		b.WriteString("\n\n")
	}

	if len(ec.Agent.Stages) > 0 {
		b.WriteString("# Your Workflow Stages\n\n")
		for i, s := range ec.Agent.Stages {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Name, s.Description)
			for _, q := range s.KeyQuestions {
				fmt.Fprintf(&b, "   - Key question: %s\n", q)
			}
			for _, o := range s.Outputs {
				fmt.Fprintf(&b, "   - Expected output: %s\n", o)
			}
		}
		b.WriteString("\n")
	}

	if len(ec.MemoryResults) > 0 {
		b.WriteString("# Relevant Context from Memory\n\n")
		for _, r := range ec.MemoryResults {
			fmt.Fprintf(&b, "- [%.0f%%] %s\n", r.Similarity*100, strings.TrimSpace(r.Entry.Content))
		}
		b.WriteString("\n")
	}

	if ec.Orchestration != nil {
		b.WriteString("# Multi-Agent Orchestration Capabilities\n\n")
		b.WriteString("You can delegate parts of this task to other agents:\n\n")

		agents := ec.Orchestration.AvailableAgents
		listed := agents
		if len(listed) > maxListedAgents {
			listed = listed[:maxListedAgents]
		}
		for _, a := range listed {
			if a.Role != "" {
				fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Role)
			} else {
				fmt.Fprintf(&b, "- %s\n", a.Name)
			}
		}
		if extra := len(agents) - len(listed); extra > 0 {
			fmt.Fprintf(&b, "...and %d more\n", extra)
		}

		b.WriteString("\n")
		if ec.Session != nil {
			fmt.Fprintf(&b, "Current session: %s (initiated by %s)\n", ec.Session.ID, ec.Session.Initiator)
		}
		if len(ec.DelegationChain) > 0 {
			fmt.Fprintf(&b, "Delegation chain: %s\n", strings.Join(ec.DelegationChain, " -> "))
		}
		fmt.Fprintf(&b, "Current delegation depth: %d of %d\n", ec.Depth(), ec.Orchestration.MaxDelegationDepth)
		b.WriteString("\nTo delegate, write a line: DELEGATE TO <agent>: <task>\n\n")
	}

	b.WriteString("# Task\n\n")
	b.WriteString(strings.TrimSpace(ec.Task))
	b.WriteString("\n")

	return b.String()
}
