package policy

import "github.com/codial-ai/codial-core/pkg/codial"

// Snapshot is the immutable value object aggregating merged policy text,
// agent profiles, skill summaries, and subagent definitions (spec.md §3).
// Not persisted beyond the request lifetime of a turn.
type Snapshot struct {
	// MergedRules is RULES.md ++ CODIAL.md, in that order.
	MergedRules string
	// AgentsMD is the raw AGENTS.md content (empty string if absent).
	AgentsMD string
	// Defaults are the default_* keys declared in AGENTS.md, used to seed
	// new sessions.
	Defaults Defaults
	// Skills summarizes every well-formed skill file discovered.
	Skills []Skill
	// Subagents maps subagent name -> definition.
	Subagents map[string]Subagent
	// Hash is a SHA-256 hex digest over the canonical serialization of the
	// fields above plus the user-global and workspace-upward CLAUDE.md
	// chains; those chains are hashed but not kept in any Snapshot field and
	// do not appear in SystemContext. Two loads of an unchanged filesystem
	// produce an identical Hash (spec.md invariant 8).
	Hash string
}

// Defaults are the session-seeding defaults declared in AGENTS.md.
type Defaults struct {
	Provider   string
	Model      string
	MCPEnabled bool
	MCPProfile string
}

// Skill is a summarized entry from .claude/skills/*/SKILL.md or
// skills/*.yaml.
type Skill struct {
	Name        string
	Description string
	Source      string // file path, for diagnostics
}

// Subagent is a named agent profile selectable per session.
type Subagent struct {
	Name        string
	Description string
	SystemText  string
	Source      string
}

// SessionDefaults adapts the AGENTS.md-declared Defaults into the wire
// shape consumed by the REST layer when seeding a new session's config
// (spec.md §3), satisfying httpapi.PolicyResolver.
func (s *Snapshot) SessionDefaults() codial.SessionDefaults {
	return codial.SessionDefaults{
		Provider:   s.Defaults.Provider,
		Model:      s.Defaults.Model,
		MCPEnabled: s.Defaults.MCPEnabled,
		MCPProfile: s.Defaults.MCPProfile,
	}
}

// Resolves reports whether name is a known subagent, satisfying the
// sessions.Store.SetSubagent resolver contract.
func (s *Snapshot) Resolves(name string) bool {
	if name == "" {
		return true
	}
	_, ok := s.Subagents[name]
	return ok
}

// SystemContext serializes the snapshot into a provider-agnostic "system
// context" blob for the Turn Engine (spec.md §4.7 step 1), optionally
// incorporating a selected subagent's profile text.
func (s *Snapshot) SystemContext(subagentName string) string {
	var b []byte
	write := func(section, body string) {
		if body == "" {
			return
		}
		b = append(b, []byte("## "+section+"\n\n"+body+"\n\n")...)
	}

	write("Agent defaults", s.AgentsMD)
	write("Rules", s.MergedRules)

	if subagentName != "" {
		if sub, ok := s.Subagents[subagentName]; ok {
			write("Subagent: "+sub.Name, sub.SystemText)
		}
	}

	if len(s.Skills) > 0 {
		var skillLines string
		for _, sk := range s.Skills {
			skillLines += "- " + sk.Name + ": " + sk.Description + "\n"
		}
		write("Available skills", skillLines)
	}

	return string(b)
}
