// Package codialerr defines Codial's stable wire error codes and the
// envelope returned to REST callers and streamed as "error" events.
package codialerr

import "fmt"

// Code is a stable wire error code. Never rename these once released —
// Discord-edge clients and provider bridges match on the string value.
type Code string

const (
	CodeAuthMissing         Code = "AUTH_MISSING"
	CodeAuthInvalid         Code = "AUTH_INVALID"
	CodeProviderAuthFailed  Code = "PROVIDER_AUTH_FAILED"
	CodeRateLimit           Code = "RATE_LIMIT_EXCEEDED"
	CodeTimeout             Code = "TIMEOUT_GENERIC"
	CodeBridgeTimeout       Code = "TIMEOUT_BRIDGE"
	CodeMCPTimeout          Code = "MCP_TIMEOUT"
	CodeProviderNotEnabled  Code = "PROVIDER_NOT_ENABLED"
	CodeBridgeTransport     Code = "PROVIDER_BRIDGE_TRANSPORT"
	CodeBridgeProtocol      Code = "PROVIDER_BRIDGE_PROTOCOL"
	CodeMCPError            Code = "MCP_ERROR"
	CodePolicyMalformed     Code = "POLICY_MALFORMED"
	CodeAttachmentRejected  Code = "ATTACHMENT_REJECTED"
	CodeFilesIO             Code = "FILES_IO"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionEnded        Code = "SESSION_ENDED"
	CodeSubagentNotFound    Code = "SUBAGENT_NOT_FOUND"
	CodeIndexOutOfRange     Code = "INDEX_OUT_OF_RANGE"
	CodeQueueFull           Code = "QUEUE_FULL"
	CodeToolBudgetExceeded  Code = "TOOL_BUDGET_EXCEEDED"
	CodeCancelled           Code = "CANCELLED"
	CodeShutdown            Code = "SHUTDOWN"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is the stable envelope returned by the REST API and streamed as
// the payload of an "error" event.
type Error struct {
	WireCode  Code   `json:"error_code"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.WireCode, e.Message)
}

// New builds an Error, defaulting Retryable from the code's class.
func New(code Code, traceID, msg string) *Error {
	return &Error{WireCode: code, Message: msg, TraceID: traceID, Retryable: IsTransientCode(code)}
}

func Newf(code Code, traceID, format string, args ...interface{}) *Error {
	return New(code, traceID, fmt.Sprintf(format, args...))
}

// IsTransientCode reports whether the wire code belongs to a class that the
// Turn Engine's retry policy may retry locally (spec.md §4.7/§7).
func IsTransientCode(code Code) bool {
	switch code {
	case CodeRateLimit, CodeTimeout, CodeBridgeTimeout, CodeMCPTimeout, CodeBridgeTransport:
		return true
	default:
		return false
	}
}

// IsTransient classifies an arbitrary error by unwrapping to *Error when
// possible; non-codialerr errors are treated as transient network errors
// only when the caller has already classified them (network/5xx callers
// wrap with New(CodeBridgeTransport, ...) before calling this).
func IsTransient(err error) bool {
	var e *Error
	if ok := AsError(err, &e); ok {
		return e.Retryable
	}
	return false
}

// AsError is a small errors.As wrapper kept local to avoid importing
// "errors" at every call site that only wants this one assertion.
func AsError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func SessionNotFound(traceID, sessionID string) *Error {
	return New(CodeSessionNotFound, traceID, fmt.Sprintf("session %q not found", sessionID))
}

func SessionEnded(traceID, sessionID string) *Error {
	return New(CodeSessionEnded, traceID, fmt.Sprintf("session %q has ended", sessionID))
}

func ProviderNotEnabled(traceID, provider string) *Error {
	return New(CodeProviderNotEnabled, traceID, fmt.Sprintf("provider %q is not enabled", provider))
}

func SubagentNotFound(traceID, name string) *Error {
	return New(CodeSubagentNotFound, traceID, fmt.Sprintf("subagent %q not found", name))
}

func IndexOutOfRange(traceID string, idx, length int) *Error {
	return New(CodeIndexOutOfRange, traceID, fmt.Sprintf("index %d out of range (list has %d entries)", idx, length))
}

func QueueFull(traceID string) *Error {
	return New(CodeQueueFull, traceID, "turn queue is at capacity")
}

func ToolBudgetExceeded(traceID string, maxRounds int) *Error {
	return New(CodeToolBudgetExceeded, traceID, fmt.Sprintf("tool loop exceeded %d rounds without a terminal answer", maxRounds))
}

func Cancelled(traceID string) *Error {
	return New(CodeCancelled, traceID, "operation cancelled")
}

func Shutdown(traceID string) *Error {
	return New(CodeShutdown, traceID, "worker shutting down")
}

func AttachmentRejected(traceID, reason string) *Error {
	return New(CodeAttachmentRejected, traceID, reason)
}

func MCPTimeout(traceID, method string) *Error {
	return New(CodeMCPTimeout, traceID, fmt.Sprintf("mcp call %q timed out", method))
}

func Internal(traceID string, err error) *Error {
	return New(CodeInternal, traceID, err.Error())
}
