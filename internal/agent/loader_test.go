package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestLoader(t *testing.T) (*Loader, string, string) {
	t.Helper()
	root := t.TempDir()
	agentsDir := filepath.Join(root, "agents")
	teamsDir := filepath.Join(root, "teams")
	l := NewLoader(LoaderOptions{AgentsDir: agentsDir, TeamsDir: teamsDir, Logger: zerolog.Nop()})
	return l, agentsDir, teamsDir
}

func TestLoadProfile(t *testing.T) {
	l, agentsDir, _ := newTestLoader(t)
	writeFile(t, agentsDir, "backend.yaml", `
name: backend
role: Backend Engineer
systemPrompt: You build APIs.
abilities: [coding, testing]
stages:
  - name: design
    description: Design the API
  - name: implement
    description: Implement it
    saveToMemory: true
`)

	p, err := l.LoadProfile("backend")
	require.NoError(t, err)
	assert.Equal(t, "backend", p.Name)
	assert.Equal(t, "Backend Engineer", p.Role)
	assert.Equal(t, []string{"coding", "testing"}, p.Abilities)
	require.Len(t, p.Stages, 2)
	assert.True(t, p.Stages[1].SaveToMemory)
	assert.Equal(t, DefaultMaxDelegationDepth, p.MaxDelegationDepth())
}

func TestLoadProfileInvalidName(t *testing.T) {
	l, _, _ := newTestLoader(t)

	for _, name := range []string{"Backend", "1agent", "a", "has space", "../../evil"} {
		_, err := l.LoadProfile(name)
		require.Error(t, err, name)
		assert.Equal(t, ErrCodeInvalidAgentName, CodeOf(err), name)
	}
}

func TestLoadProfileNotFound(t *testing.T) {
	l, _, _ := newTestLoader(t)
	_, err := l.LoadProfile("ghost")
	assert.Equal(t, ErrCodeProfileNotFound, CodeOf(err))
}

func TestLoadProfileDuplicateStage(t *testing.T) {
	l, agentsDir, _ := newTestLoader(t)
	writeFile(t, agentsDir, "dup.yaml", `
name: dup
stages:
  - name: plan
    description: first
  - name: plan
    description: again
`)

	_, err := l.LoadProfile("dup")
	assert.Equal(t, ErrCodeDuplicateStageName, CodeOf(err))
}

func TestLoadProfileAppliesTeamDefaults(t *testing.T) {
	l, agentsDir, teamsDir := newTestLoader(t)
	writeFile(t, teamsDir, "core.yaml", `
name: core
sharedAbilities: [style-guide]
defaultModel: sonnet
`)
	writeFile(t, agentsDir, "writer.yaml", `
name: writer
team: core
abilities: [writing]
`)

	p, err := l.LoadProfile("writer")
	require.NoError(t, err)
	assert.Equal(t, []string{"style-guide", "writing"}, p.Abilities)
	assert.Equal(t, "sonnet", p.Model)
}

func TestGetAllProfilesSkipsInvalid(t *testing.T) {
	l, agentsDir, _ := newTestLoader(t)
	writeFile(t, agentsDir, "alpha.yaml", "name: alpha\n")
	writeFile(t, agentsDir, "beta.yaml", "name: beta\n")
	writeFile(t, agentsDir, "broken.yaml", "name: [not a string\n")

	profiles, err := l.GetAllProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "alpha", profiles[0].Name)
	assert.Equal(t, "beta", profiles[1].Name)
}

func TestMaxDelegationDepthOverride(t *testing.T) {
	p := &AgentProfile{Name: "a", Orchestration: &Orchestration{MaxDelegationDepth: 4}}
	assert.Equal(t, 4, p.MaxDelegationDepth())
}

func TestRenderTemplate(t *testing.T) {
	tpl := "name: {{NAME}}\nrole: {{ROLE | default: Engineer}}\nteam: {{TEAM | default: }}\n"

	out := RenderTemplate(tpl, map[string]string{"NAME": "backend"})
	assert.Equal(t, "name: backend\nrole: Engineer\nteam: \n", out)

	out = RenderTemplate(tpl, map[string]string{"NAME": "qa", "ROLE": "Tester"})
	assert.Contains(t, out, "role: Tester")
}
