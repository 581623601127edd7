// Package sessions implements the Session Store (spec.md §4.1, component
// C5). Adapted from the teacher's internal/sessions/manager.go: a coarse
// RWMutex-guarded map plus per-session locks for mutation exclusivity.
package sessions

import "time"

// Status is a Session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Config is a session's mutable provider/model/MCP/subagent configuration.
type Config struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	MCPEnabled     bool   `json:"mcp_enabled"`
	MCPProfileName string `json:"mcp_profile_name"`
	SubagentName   string `json:"subagent_name,omitempty"`
}

// Session is the lifetime unit of an interaction, bound to one Discord
// channel (spec.md §3). Values are handed to callers as copies; mutation
// only ever happens inside Store methods under the session's lock.
type Session struct {
	SessionID   string     `json:"session_id"`
	GuildID     string     `json:"guild_id"`
	RequesterID string     `json:"requester_id"`
	ChannelID   string     `json:"channel_id,omitempty"`
	Status      Status     `json:"status"`
	Config      Config     `json:"config"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}
