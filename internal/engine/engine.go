// Package engine implements the Turn Engine (spec.md §4.7, component
// C7) — the hardest part of Codial: policy composition, attachment
// handling, MCP tool discovery, and the bounded provider-bridge/MCP
// tool-call loop, with structured event emission throughout. Directly
// adapted from the teacher's internal/agent/loop.go Think-Act-Observe
// cycle (Loop.Run/runLoop), generalized from a single always-on agent
// loop to Codial's per-turn invocation with an explicit round budget.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/internal/events"
	"github.com/codial-ai/codial-core/internal/mcpclient"
	"github.com/codial-ai/codial-core/internal/policy"
	"github.com/codial-ai/codial-core/internal/providers"
	"github.com/codial-ai/codial-core/internal/sessions"
	"github.com/codial-ai/codial-core/internal/turns"
	"github.com/codial-ai/codial-core/pkg/codial"
)

// MaxRounds is the bounded tool-call loop size (spec.md §4.7).
const MaxRounds = 5

// PolicyLoader is the capability the engine needs from internal/policy —
// either a *policy.Loader or a *policy.CachingLoader.
type PolicyLoader interface {
	Load() (*policy.Snapshot, error)
}

// Engine orchestrates one turn end to end (component C7).
type Engine struct {
	sessions        sessions.Store
	policyLoader    PolicyLoader
	providerManager *providers.Manager
	mcp             *mcpclient.Client
	ingester        Ingester
	publisher       *events.Publisher

	maxRounds       int
	wallClockBudget time.Duration
}

// Ingester is the capability internal/attachments.Ingester implements.
type Ingester interface {
	Ingest(ctx context.Context, att codial.Attachment) (codial.Attachment, error)
}

// New constructs a Turn Engine. mcp may be nil (spec.md §4.5: absent MCP
// server means an empty tool manifest, never an error).
func New(sessionStore sessions.Store, policyLoader PolicyLoader, providerManager *providers.Manager, mcp *mcpclient.Client, ingester Ingester, publisher *events.Publisher, wallClockBudget time.Duration) *Engine {
	if wallClockBudget <= 0 {
		wallClockBudget = 2 * time.Minute
	}
	return &Engine{
		sessions:        sessionStore,
		policyLoader:    policyLoader,
		providerManager: providerManager,
		mcp:             mcp,
		ingester:        ingester,
		publisher:       publisher,
		maxRounds:       MaxRounds,
		wallClockBudget: wallClockBudget,
	}
}

// Run executes t.TurnID against its session's current configuration,
// implementing turns.Engine. Returns a non-nil error iff the turn should
// be marked failed by the caller.
func (e *Engine) Run(ctx context.Context, t *turns.Turn) error {
	defer e.publisher.CloseTurn(t.SessionID, t.TurnID)

	ctx, cancel := context.WithTimeout(ctx, e.wallClockBudget)
	defer cancel()

	sess, ok := e.sessions.Get(t.SessionID)
	if !ok {
		err := codialerr.SessionNotFound(t.TraceID, t.SessionID)
		e.emitError(t, err)
		return err
	}

	snapshot, err := e.policyLoader.Load()
	if err != nil {
		wrapped := codialerr.New(codialerr.CodePolicyMalformed, t.TraceID, "policy load: "+err.Error())
		e.emitError(t, wrapped)
		return wrapped
	}

	provider, perr := e.providerManager.Resolve(t.TraceID, sess.Config.Provider)
	if perr != nil {
		e.emitError(t, perr)
		return perr
	}

	systemContext := snapshot.SystemContext(sess.Config.SubagentName)

	attachments := make([]codial.Attachment, 0, len(t.Attachments))
	for _, a := range t.Attachments {
		wire := codial.Attachment{
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         a.Size,
			URL:          a.URL,
			LocalPath:    a.LocalPath,
		}
		ingested, ierr := e.ingester.Ingest(ctx, wire)
		if ierr != nil {
			var ce *codialerr.Error
			if !codialerr.AsError(ierr, &ce) {
				ce = codialerr.New(codialerr.CodeAttachmentRejected, t.TraceID, ierr.Error())
			}
			e.emitError(t, ce)
			return ce
		}
		attachments = append(attachments, ingested)
	}

	var manifest []codial.ToolManifestEntry
	if sess.Config.MCPEnabled && e.mcp != nil {
		manifest, err = e.mcp.ListTools(ctx)
		if err != nil {
			var ce *codialerr.Error
			if !codialerr.AsError(err, &ce) {
				ce = codialerr.New(codialerr.CodeMCPError, t.TraceID, err.Error())
			}
			e.emitError(t, ce)
			return ce
		}
	}

	return e.toolLoop(ctx, t, provider, systemContext, attachments, manifest)
}

func (e *Engine) toolLoop(ctx context.Context, t *turns.Turn, provider providers.Provider, systemContext string, attachments []codial.Attachment, manifest []codial.ToolManifestEntry) error {
	messages := []codial.Message{{Role: "user", Content: t.Text}}
	var toolResults []codial.ToolResult
	planEmitted := false

	for round := 1; round <= e.maxRounds; round++ {
		if ctx.Err() != nil {
			cerr := cancellationError(ctx, t.TraceID)
			e.emitError(t, cerr)
			return cerr
		}

		resp, err := provider.Run(ctx, codial.BridgeRequest{
			SystemContext: systemContext,
			Messages:      messages,
			Attachments:   attachments,
			ToolManifest:  manifest,
			ToolResults:   toolResults,
		})
		if err != nil {
			var ce *codialerr.Error
			if ctx.Err() != nil {
				// The bridge call failed because the turn's context ended,
				// not because of anything the provider bridge itself did —
				// classify by cancellation cause rather than trusting
				// whatever transport-level code the bridge client guessed.
				ce = cancellationError(ctx, t.TraceID)
			} else if !codialerr.AsError(err, &ce) {
				ce = codialerr.New(codialerr.CodeBridgeTransport, t.TraceID, err.Error())
			}
			e.emitError(t, ce)
			return ce
		}

		if resp.Plan != "" && !planEmitted {
			e.publish(t, codial.EventPlan, map[string]string{"text": resp.Plan})
			planEmitted = true
		}
		if resp.ResponseDelta != "" {
			e.publish(t, codial.EventResponseDelta, map[string]string{"text": resp.ResponseDelta})
		}

		if resp.Terminal != nil {
			e.publish(t, codial.EventFinal, map[string]string{"text": resp.Terminal.Text})
			return nil
		}

		if len(resp.ToolRequests) == 0 {
			slog.Warn("engine.bridge_returned_neither", "turn_id", t.TurnID, "round", round)
			e.publish(t, codial.EventFinal, map[string]string{"text": ""})
			return nil
		}

		roundResults := make([]codial.ToolResult, 0, len(resp.ToolRequests))
		for _, tr := range resp.ToolRequests {
			e.publish(t, codial.EventAction, map[string]interface{}{
				"tool_call_id": tr.ToolCallID,
				"name":         tr.Name,
				"arguments":    tr.Arguments,
			})

			result := e.callTool(ctx, tr)
			e.publish(t, codial.EventToolResultSummary, map[string]interface{}{
				"tool_call_id": result.ToolCallID,
				"is_error":     result.Error != "",
			})
			roundResults = append(roundResults, result)
		}

		messages = append(messages, toolCallAssistantMessage(resp))
		for _, r := range roundResults {
			messages = append(messages, codial.Message{Role: "tool", Content: toolMessageContent(r), ToolCallID: r.ToolCallID})
		}
		toolResults = append(toolResults, roundResults...)

		e.publish(t, codial.EventDecisionSummary, map[string]interface{}{
			"round":      round,
			"tool_calls": len(resp.ToolRequests),
		})
	}

	budgetErr := codialerr.ToolBudgetExceeded(t.TraceID, e.maxRounds)
	e.publish(t, codial.EventFinal, map[string]string{"text": "budget exhausted: tool loop did not reach a terminal answer within the round limit"})
	return budgetErr
}

// cancellationError classifies a turn's context-ended condition: a turn
// killed by the Worker Pool's drain deadline (spec.md §4.6) is marked
// failed{SHUTDOWN}; any other context cancellation (operator-initiated,
// or the turn's own wall-clock budget) is marked failed{CANCELLED}.
func cancellationError(ctx context.Context, traceID string) *codialerr.Error {
	if turns.IsShuttingDown(ctx) {
		return codialerr.Shutdown(traceID)
	}
	return codialerr.Cancelled(traceID)
}

// callTool invokes one tool request via MCP. A failure is never retried
// at this call site — it's folded into the ToolResult.Error so the next
// bridge round sees it as a tool error (spec.md §4.7/§9).
func (e *Engine) callTool(ctx context.Context, tr codial.ToolRequest) codial.ToolResult {
	if e.mcp == nil {
		return codial.ToolResult{ToolCallID: tr.ToolCallID, Error: "mcp client is not configured for this session"}
	}
	output, err := e.mcp.CallTool(ctx, tr.Name, tr.Arguments)
	if err != nil {
		return codial.ToolResult{ToolCallID: tr.ToolCallID, Error: err.Error()}
	}
	return codial.ToolResult{ToolCallID: tr.ToolCallID, Output: output}
}

func toolCallAssistantMessage(resp *codial.BridgeResponse) codial.Message {
	content := resp.Plan
	if content == "" {
		content = fmt.Sprintf("requested %d tool call(s)", len(resp.ToolRequests))
	}
	return codial.Message{Role: "assistant", Content: content}
}

func toolMessageContent(r codial.ToolResult) string {
	if r.Error != "" {
		return "error: " + r.Error
	}
	return r.Output
}

func (e *Engine) publish(t *turns.Turn, eventType string, payload interface{}) {
	e.publisher.Publish(codial.StreamEvent{
		SessionID: t.SessionID,
		TurnID:    t.TurnID,
		Type:      eventType,
		Payload:   payload,
	})
}

func (e *Engine) emitError(t *turns.Turn, err *codialerr.Error) {
	if err.TraceID == "" {
		err.TraceID = t.TraceID
	}
	e.publish(t, codial.EventError, err)
}

// NewTraceID generates a trace id for a turn/request (spec.md §4.9).
func NewTraceID() string { return uuid.NewString() }
