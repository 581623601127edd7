// Package codial holds the wire types shared between the Turn Engine, the
// provider bridge client, the MCP client, and the REST API. Keeping them in
// a leaf package avoids import cycles between internal/engine,
// internal/providers, and internal/httpapi (mirrors how the teacher keeps
// pkg/protocol free of internal/* imports).
package codial

// Attachment is an attachment reference carried on a Turn.
type Attachment struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	URL          string `json:"url"`
	LocalPath    string `json:"local_path,omitempty"`
}

// Message is one entry in the conversation passed to the provider bridge.
type Message struct {
	Role       string `json:"role"` // "system", "user", "assistant", "tool"
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolManifestEntry describes one MCP-discovered tool offered to the bridge.
type ToolManifestEntry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ToolRequest is one tool invocation the provider bridge asked for.
type ToolRequest struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Arguments  map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of invoking one ToolRequest, fed back to the
// bridge on the next round. Exactly one of Output/Error is set.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BridgeRequest is the payload POSTed to a provider bridge each round
// (spec.md §6.3).
type BridgeRequest struct {
	SystemContext string              `json:"system_context"`
	Messages      []Message           `json:"messages"`
	Attachments   []Attachment        `json:"attachments,omitempty"`
	ToolManifest  []ToolManifestEntry `json:"tool_manifest,omitempty"`
	ToolResults   []ToolResult        `json:"tool_results,omitempty"`
}

// BridgeResponse is either a terminal answer or a set of tool requests.
// Exactly one of Terminal/ToolRequests is populated.
type BridgeResponse struct {
	Terminal      *TerminalAnswer `json:"terminal,omitempty"`
	ToolRequests  []ToolRequest   `json:"tool_requests,omitempty"`
	Plan          string          `json:"plan,omitempty"`
	ResponseDelta string          `json:"response_delta,omitempty"`
}

// TerminalAnswer is the bridge's final answer for a turn.
type TerminalAnswer struct {
	Text string `json:"text"`
}

// Event types streamed to the gateway (spec.md §4.7/§6.2).
const (
	EventPlan             = "plan"
	EventAction            = "action"
	EventDecisionSummary   = "decision_summary"
	EventResponseDelta     = "response_delta"
	EventFinal             = "final"
	EventError             = "error"
	EventToolResultSummary = "tool_result_summary"
)

// SessionDefaults are the AGENTS.md-declared defaults used to seed a new
// session's config at creation time (spec.md §3/§4.2).
type SessionDefaults struct {
	Provider   string
	Model      string
	MCPEnabled bool
	MCPProfile string
}

// StreamEvent is the body POSTed to the gateway's internal stream endpoint.
type StreamEvent struct {
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
}
