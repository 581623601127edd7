package mcpclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codial-ai/codial-core/internal/codialerr"
)

// startTestMCPServer boots a real in-process MCP server exposing one
// "echo" tool, grounded on the pack's mockmcp helper.
func startTestMCPServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := mcpserver.NewMCPServer("codial-test", "1.0.0", mcpserver.WithToolCapabilities(false))
	echoTool := mcpgo.NewTool("echo",
		mcpgo.WithDescription("echoes the provided text"),
		mcpgo.WithString("text", mcpgo.Description("text to echo")),
	)
	srv.AddTool(echoTool, func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		text := mcpgo.ParseString(req, "text", "")
		if text == "" {
			return mcpgo.NewToolResultError("text is required"), nil
		}
		return mcpgo.NewToolResultText("echo: " + text), nil
	})

	httpSrv := mcpserver.NewStreamableHTTPServer(srv)
	ts := httptest.NewServer(httpSrv)
	t.Cleanup(ts.Close)
	return ts
}

func TestNewReturnsNilClientWhenURLEmpty(t *testing.T) {
	c, err := New(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewHandshakesAndListsTools(t *testing.T) {
	ts := startTestMCPServer(t)

	c, err := New(context.Background(), ts.URL, "", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
}

func TestCallToolReturnsTextOutput(t *testing.T) {
	ts := startTestMCPServer(t)

	c, err := New(context.Background(), ts.URL, "", 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	out, err := c.CallTool(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestCallToolSurfacesToolLevelError(t *testing.T) {
	ts := startTestMCPServer(t)

	c, err := New(context.Background(), ts.URL, "", 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CallTool(context.Background(), "echo", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text is required")
}

func TestPingSucceedsAgainstLiveServer(t *testing.T) {
	ts := startTestMCPServer(t)

	c, err := New(context.Background(), ts.URL, "", 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Ping(context.Background()))
}

func TestListToolsClassifiesTransportErrorAfterServerCloses(t *testing.T) {
	ts := startTestMCPServer(t)

	c, err := New(context.Background(), ts.URL, "", 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	ts.Close()

	_, err = c.ListTools(context.Background())
	require.Error(t, err)
	var ce *codialerr.Error
	require.True(t, codialerr.AsError(err, &ce))
	assert.Equal(t, codialerr.CodeMCPError, ce.WireCode)
}
