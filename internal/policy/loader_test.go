package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	path := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMergesRulesThenCodialInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "RULES.md", "always write tests")
	writeFile(t, dir, "CODIAL.md", "never push to main")

	snap, err := New(dir).WithHomeDir(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, "always write tests\n\nnever push to main", snap.MergedRules)
}

func TestLoadParsesAgentsMDDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", "default_provider: anthropic\ndefault_model: \"claude\"\ndefault_mcp_enabled: true\n")

	snap, err := New(dir).WithHomeDir(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", snap.Defaults.Provider)
	assert.Equal(t, "claude", snap.Defaults.Model)
	assert.True(t, snap.Defaults.MCPEnabled)
}

func TestLoadDiscoversClaudeSkills(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".claude/skills/deploy/SKILL.md", "---\nname: deploy\ndescription: ships the app\n---\nbody")

	snap, err := New(dir).WithHomeDir(t.TempDir()).Load()
	require.NoError(t, err)
	require.Len(t, snap.Skills, 1)
	assert.Equal(t, "deploy", snap.Skills[0].Name)
	assert.Equal(t, "ships the app", snap.Skills[0].Description)
}

func TestLoadSkipsMalformedSkillFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".claude/skills/broken/SKILL.md", "---\nname: broken\nbody without closing delimiter")

	snap, err := New(dir).WithHomeDir(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Skills)
}

func TestLoadDiscoversSubagentsWorkspaceOverridesUserGlobal(t *testing.T) {
	home := t.TempDir()
	ws := t.TempDir()
	writeFile(t, home, ".claude/agents/reviewer.md", "---\nname: reviewer\ndescription: user-global reviewer\n---\nglobal text")
	writeFile(t, ws, ".claude/agents/reviewer.md", "---\nname: reviewer\ndescription: workspace reviewer\n---\nworkspace text")

	snap, err := New(ws).WithHomeDir(home).Load()
	require.NoError(t, err)
	require.Contains(t, snap.Subagents, "reviewer")
	assert.Equal(t, "workspace text", snap.Subagents["reviewer"].SystemText)
}

func TestLoadHashIsStableAcrossIdenticalFilesystemState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "RULES.md", "be terse")
	writeFile(t, dir, "AGENTS.md", "default_provider: anthropic")

	home := t.TempDir()
	snap1, err := New(dir).WithHomeDir(home).Load()
	require.NoError(t, err)
	snap2, err := New(dir).WithHomeDir(home).Load()
	require.NoError(t, err)

	assert.Equal(t, snap1.Hash, snap2.Hash)
	if diff := cmp.Diff(snap1, snap2); diff != "" {
		t.Errorf("two loads of an unchanged filesystem must produce identical snapshots (-first +second):\n%s", diff)
	}
}

func TestLoadHashChangesWhenRulesChange(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	writeFile(t, dir, "RULES.md", "be terse")

	snap1, err := New(dir).WithHomeDir(home).Load()
	require.NoError(t, err)

	writeFile(t, dir, "RULES.md", "be verbose")
	snap2, err := New(dir).WithHomeDir(home).Load()
	require.NoError(t, err)

	assert.NotEqual(t, snap1.Hash, snap2.Hash)
}

func TestSnapshotResolvesEmptyNameAlwaysTrue(t *testing.T) {
	snap := &Snapshot{Subagents: map[string]Subagent{}}
	assert.True(t, snap.Resolves(""))
	assert.False(t, snap.Resolves("missing"))
}

func TestSnapshotSystemContextIncludesSelectedSubagent(t *testing.T) {
	snap := &Snapshot{
		MergedRules: "be terse",
		Subagents: map[string]Subagent{
			"reviewer": {Name: "reviewer", SystemText: "review thoroughly"},
		},
	}
	ctx := snap.SystemContext("reviewer")
	assert.Contains(t, ctx, "be terse")
	assert.Contains(t, ctx, "review thoroughly")
}
