package codialerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientCode(t *testing.T) {
	assert.True(t, IsTransientCode(CodeRateLimit))
	assert.True(t, IsTransientCode(CodeBridgeTransport))
	assert.False(t, IsTransientCode(CodeSessionNotFound))
	assert.False(t, IsTransientCode(CodeAttachmentRejected))
}

func TestNewSetsRetryableFromCode(t *testing.T) {
	e := New(CodeMCPTimeout, "trace-1", "timed out")
	assert.True(t, e.Retryable)
	assert.Equal(t, "trace-1", e.TraceID)

	e2 := New(CodeSessionNotFound, "trace-2", "nope")
	assert.False(t, e2.Retryable)
}

func TestAsErrorUnwrapsWrappedError(t *testing.T) {
	base := SessionNotFound("t1", "sess-1")
	wrapped := fmt.Errorf("outer: %w", base)

	var ce *Error
	require.True(t, AsError(wrapped, &ce))
	assert.Equal(t, CodeSessionNotFound, ce.WireCode)
}

func TestAsErrorFalseOnPlainError(t *testing.T) {
	var ce *Error
	assert.False(t, AsError(errors.New("plain"), &ce))
}

func TestIsTransientClassifiesViaAsError(t *testing.T) {
	assert.True(t, IsTransient(New(CodeRateLimit, "", "")))
	assert.False(t, IsTransient(New(CodeSessionNotFound, "", "")))
	assert.False(t, IsTransient(errors.New("not a codialerr")))
}

func TestConstructorsProduceStableWireCodes(t *testing.T) {
	assert.Equal(t, CodeSessionNotFound, SessionNotFound("", "s").WireCode)
	assert.Equal(t, CodeSessionEnded, SessionEnded("", "s").WireCode)
	assert.Equal(t, CodeProviderNotEnabled, ProviderNotEnabled("", "p").WireCode)
	assert.Equal(t, CodeSubagentNotFound, SubagentNotFound("", "n").WireCode)
	assert.Equal(t, CodeIndexOutOfRange, IndexOutOfRange("", 1, 0).WireCode)
	assert.Equal(t, CodeQueueFull, QueueFull("").WireCode)
	assert.Equal(t, CodeToolBudgetExceeded, ToolBudgetExceeded("", 5).WireCode)
	assert.Equal(t, CodeCancelled, Cancelled("").WireCode)
	assert.Equal(t, CodeShutdown, Shutdown("").WireCode)
	assert.Equal(t, CodeAttachmentRejected, AttachmentRejected("", "reason").WireCode)
	assert.Equal(t, CodeMCPTimeout, MCPTimeout("", "tools/list").WireCode)
	assert.Equal(t, CodeInternal, Internal("", errors.New("boom")).WireCode)
}

func TestErrorImplementsErrorInterface(t *testing.T) {
	var err error = New(CodeInternal, "t", "boom")
	assert.Equal(t, "INTERNAL_ERROR: boom", err.Error())
}
