// Package policy implements the Policy Loader (spec.md §4.2, component C1).
// Source precedence: system defaults -> user-global chain (~/.claude/
// CLAUDE.md) -> workspace-upward chain -> AGENTS.md -> RULES.md ∪
// CODIAL.md -> skills directory -> subagent definitions. The loader is
// pure on input files: unchanged filesystem yields a byte-identical
// content hash (invariant 8). Grounded on the teacher's
// internal/bootstrap/seed.go context-file loading and
// internal/config/config_load.go precedence-layering idiom.
package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader produces PolicySnapshots from a workspace root.
type Loader struct {
	workspaceRoot string
	homeDir       string // override for tests; empty = os.UserHomeDir()
}

// New constructs a Loader rooted at workspaceRoot.
func New(workspaceRoot string) *Loader {
	return &Loader{workspaceRoot: workspaceRoot}
}

// WithHomeDir overrides the resolved home directory (test hook).
func (l *Loader) WithHomeDir(dir string) *Loader {
	l.homeDir = dir
	return l
}

func (l *Loader) resolvedHomeDir() string {
	if l.homeDir != "" {
		return l.homeDir
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return ""
}

// Load reads every source file and produces a Snapshot. Missing optional
// files are not errors; malformed frontmatter in a skill/subagent file
// logs a warning and is skipped.
func (l *Loader) Load() (*Snapshot, error) {
	var canonical bytes.Buffer

	userGlobal := l.readUserGlobalChain()
	canonical.WriteString("user-global:\n" + userGlobal + "\n")

	workspaceChain := l.readWorkspaceUpwardChain()
	canonical.WriteString("workspace-chain:\n" + workspaceChain + "\n")

	agentsMD := l.readOptional("AGENTS.md")
	canonical.WriteString("AGENTS.md:\n" + agentsMD + "\n")

	rulesMD := l.readOptional("RULES.md")
	codialMD := l.readOptional("CODIAL.md")
	merged := strings.TrimRight(rulesMD, "\n")
	if codialMD != "" {
		if merged != "" {
			merged += "\n\n"
		}
		merged += strings.TrimRight(codialMD, "\n")
	}
	canonical.WriteString("RULES.md+CODIAL.md:\n" + merged + "\n")

	skills := l.loadSkills()
	for _, sk := range skills {
		canonical.WriteString("skill:" + sk.Source + ":" + sk.Name + ":" + sk.Description + "\n")
	}

	subagents := l.loadSubagents()
	names := make([]string, 0, len(subagents))
	for name := range subagents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sub := subagents[name]
		canonical.WriteString("subagent:" + sub.Source + ":" + sub.Name + ":" + sub.SystemText + "\n")
	}

	defaults := parseDefaults(agentsMD)

	sum := sha256.Sum256(canonical.Bytes())

	return &Snapshot{
		MergedRules: merged,
		AgentsMD:    agentsMD,
		Defaults:    defaults,
		Skills:      skills,
		Subagents:   subagents,
		Hash:        hex.EncodeToString(sum[:]),
	}, nil
}

func (l *Loader) readOptional(relPath string) string {
	data, err := os.ReadFile(filepath.Join(l.workspaceRoot, relPath))
	if err != nil {
		return ""
	}
	return string(data)
}

// readUserGlobalChain reads ~/.claude/CLAUDE.md, the lowest-precedence
// user-wide policy source.
func (l *Loader) readUserGlobalChain() string {
	home := l.resolvedHomeDir()
	if home == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".claude", "CLAUDE.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// readWorkspaceUpwardChain walks from the workspace root up to the
// filesystem root, collecting any CLAUDE.md found at each level (closest
// ancestor last, so it has the highest precedence within the chain).
func (l *Loader) readWorkspaceUpwardChain() string {
	dir, err := filepath.Abs(l.workspaceRoot)
	if err != nil {
		return ""
	}

	var chunks []string
	for {
		if data, err := os.ReadFile(filepath.Join(dir, "CLAUDE.md")); err == nil {
			chunks = append([]string{string(data)}, chunks...)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return strings.Join(chunks, "\n\n")
}

type skillFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// loadSkills discovers .claude/skills/*/SKILL.md and skills/*.yaml.
func (l *Loader) loadSkills() []Skill {
	var out []Skill

	claudeSkillsDir := filepath.Join(l.workspaceRoot, ".claude", "skills")
	entries, _ := os.ReadDir(claudeSkillsDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(claudeSkillsDir, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fm, _, ferr := splitFrontmatter(data)
		if ferr != nil {
			slog.Warn("policy.skill.malformed", "path", path, "error", ferr)
			continue
		}
		var sf skillFrontmatter
		if err := yaml.Unmarshal(fm, &sf); err != nil {
			slog.Warn("policy.skill.malformed", "path", path, "error", err)
			continue
		}
		name := sf.Name
		if name == "" {
			name = e.Name()
		}
		out = append(out, Skill{Name: name, Description: sf.Description, Source: path})
	}

	yamlSkillsDir := filepath.Join(l.workspaceRoot, "skills")
	yamlEntries, _ := os.ReadDir(yamlSkillsDir)
	for _, e := range yamlEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(yamlSkillsDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var sf skillFrontmatter
		if err := yaml.Unmarshal(data, &sf); err != nil {
			slog.Warn("policy.skill.malformed", "path", path, "error", err)
			continue
		}
		name := sf.Name
		if name == "" {
			name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		out = append(out, Skill{Name: name, Description: sf.Description, Source: path})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

type subagentFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// loadSubagents discovers ~/.claude/agents/*.md and
// <workspace>/.claude/agents/*.md. Workspace-local definitions override a
// same-named user-global one.
func (l *Loader) loadSubagents() map[string]Subagent {
	out := make(map[string]Subagent)

	home := l.resolvedHomeDir()
	if home != "" {
		l.loadSubagentDir(filepath.Join(home, ".claude", "agents"), out)
	}
	l.loadSubagentDir(filepath.Join(l.workspaceRoot, ".claude", "agents"), out)

	return out
}

func (l *Loader) loadSubagentDir(dir string, out map[string]Subagent) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fm, body, ferr := splitFrontmatter(data)
		if ferr != nil {
			slog.Warn("policy.subagent.malformed", "path", path, "error", ferr)
			continue
		}
		var sf subagentFrontmatter
		if len(fm) > 0 {
			if err := yaml.Unmarshal(fm, &sf); err != nil {
				slog.Warn("policy.subagent.malformed", "path", path, "error", err)
				continue
			}
		}
		name := sf.Name
		if name == "" {
			name = strings.TrimSuffix(e.Name(), ".md")
		}
		out[name] = Subagent{Name: name, Description: sf.Description, SystemText: body, Source: path}
	}
}

// splitFrontmatter splits a "---\nYAML\n---\nBODY" document. Documents
// without a leading "---" are treated as frontmatter-less (fm=nil,
// body=whole document).
func splitFrontmatter(data []byte) (fm []byte, body string, err error) {
	const delim = "---"
	text := string(data)
	if !strings.HasPrefix(strings.TrimLeft(text, "\r\n"), delim) {
		return nil, text, nil
	}
	trimmed := strings.TrimLeft(text, "\r\n")
	rest := trimmed[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return nil, "", errMalformedFrontmatter
	}
	fmText := rest[:idx]
	body = strings.TrimLeft(rest[idx+len(delim)+1:], "\r\n")
	return []byte(fmText), body, nil
}

var errMalformedFrontmatter = malformedErr("unterminated frontmatter block")

type malformedErr string

func (e malformedErr) Error() string { return string(e) }

// parseDefaults extracts default_provider/default_model/
// default_mcp_enabled/default_mcp_profile keys from AGENTS.md (spec.md
// §4.2). Recognizes simple "key: value" lines, tolerant of YAML-ish or
// Markdown-bullet formatting.
func parseDefaults(agentsMD string) Defaults {
	var d Defaults
	for _, line := range strings.Split(agentsMD, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		switch key {
		case "default_provider":
			d.Provider = val
		case "default_model":
			d.Model = val
		case "default_mcp_enabled":
			if b, err := strconv.ParseBool(val); err == nil {
				d.MCPEnabled = b
			}
		case "default_mcp_profile":
			d.MCPProfile = val
		}
	}
	return d
}
