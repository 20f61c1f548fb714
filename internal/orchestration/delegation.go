package orchestration

import (
	"regexp"
	"strings"
)

// ParsedDelegation is one delegation directive found in agent output.
type ParsedDelegation struct {
	Target string `json:"target"`
	Task   string `json:"task"`
}

// Directive forms recognized in agent output, matched per line. The capture
// groups are (target, first task fragment).
var delegationMatchers = []*regexp.Regexp{
	regexp.MustCompile(`^(?i)DELEGATE TO ([A-Za-z0-9_-]+):\s*(.*)$`),
	regexp.MustCompile(`^@([A-Za-z0-9_-]+)\s+(.*)$`),
	regexp.MustCompile(`^(?i)please ask ([A-Za-z0-9_-]+) to\s+(.*)$`),
	regexp.MustCompile(`^(?i)i need ([A-Za-z0-9_-]+) to\s+(.*)$`),
	regexp.MustCompile(`^請\s*([A-Za-z0-9_-]+)\s+(.*)$`),
}

// ParseDelegations extracts delegation directives from agent output in
// document order. A directive's task runs from the directive line until a
// blank line, the next directive, or end of input.
func ParseDelegations(content string) []ParsedDelegation {
	var (
		out     []ParsedDelegation
		current *ParsedDelegation
		task    strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Task = strings.TrimSpace(task.String())
		if current.Task != "" {
			out = append(out, *current)
		}
		current = nil
		task.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}

		if target, fragment, ok := matchDirective(trimmed); ok {
			flush()
			current = &ParsedDelegation{Target: target}
			task.WriteString(fragment)
			continue
		}

		if current != nil {
			task.WriteString("\n")
			task.WriteString(trimmed)
		}
	}
	flush()

	return out
}

func matchDirective(line string) (target, fragment string, ok bool) {
	for _, re := range delegationMatchers {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
