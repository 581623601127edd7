// Package mcpclient implements the MCP Client (spec.md §4.5, component
// C4): a JSON-RPC 2.0 lifecycle over HTTP via mark3labs/mcp-go, exactly as
// the teacher's internal/mcp/manager_connect.go drives the same library.
// If CORE_MCP_SERVER_URL is unset, New returns (nil, nil) and the Turn
// Engine proceeds with an empty tool manifest.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpclientlib "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/codial-ai/codial-core/internal/codialerr"
	"github.com/codial-ai/codial-core/pkg/codial"
)

// Client wraps one MCP server connection. Tool calls are serialized
// internally by the underlying library's request-id allocator (spec.md
// §4.5's strictly-monotonic id requirement).
type Client struct {
	raw     *mcpclientlib.Client
	timeout time.Duration
}

// New connects to the MCP server at url (empty url => absent client,
// matching spec.md §4.5). Performs the initialize/notifications.initialized
// handshake before returning.
func New(ctx context.Context, url, token string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var opts []transport.StreamableHTTPCOption
	if token != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	}

	raw, err := mcpclientlib.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("mcp: create client: %w", err)
	}

	if err := raw.Start(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mcp: start transport: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "codial-core",
		Version: "1.0.0",
	}
	if _, err := raw.Initialize(ctx, initReq); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}

	return &Client{raw: raw, timeout: timeout}, nil
}

// Close tears down the MCP connection.
func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ListTools discovers every tool the server exposes, auto-paginating via
// nextCursor (spec.md §4.5/§6.4).
func (c *Client) ListTools(ctx context.Context) ([]codial.ToolManifestEntry, error) {
	var out []codial.ToolManifestEntry
	cursor := ""
	for {
		cctx, cancel := c.withTimeout(ctx)
		req := mcpgo.ListToolsRequest{}
		if cursor != "" {
			req.Params.Cursor = mcpgo.Cursor(cursor)
		}
		res, err := c.raw.ListTools(cctx, req)
		cancel()
		if err != nil {
			return nil, c.classify(ctx, "tools/list", err)
		}
		for _, t := range res.Tools {
			out = append(out, codial.ToolManifestEntry{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaToMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" {
			break
		}
		cursor = string(res.NextCursor)
	}
	return out, nil
}

// ListPrompts auto-paginates prompts/list.
func (c *Client) ListPrompts(ctx context.Context) ([]mcpgo.Prompt, error) {
	var out []mcpgo.Prompt
	cursor := ""
	for {
		cctx, cancel := c.withTimeout(ctx)
		req := mcpgo.ListPromptsRequest{}
		if cursor != "" {
			req.Params.Cursor = mcpgo.Cursor(cursor)
		}
		res, err := c.raw.ListPrompts(cctx, req)
		cancel()
		if err != nil {
			return nil, c.classify(ctx, "prompts/list", err)
		}
		out = append(out, res.Prompts...)
		if res.NextCursor == "" {
			break
		}
		cursor = string(res.NextCursor)
	}
	return out, nil
}

// ListResources auto-paginates resources/list.
func (c *Client) ListResources(ctx context.Context) ([]mcpgo.Resource, error) {
	var out []mcpgo.Resource
	cursor := ""
	for {
		cctx, cancel := c.withTimeout(ctx)
		req := mcpgo.ListResourcesRequest{}
		if cursor != "" {
			req.Params.Cursor = mcpgo.Cursor(cursor)
		}
		res, err := c.raw.ListResources(cctx, req)
		cancel()
		if err != nil {
			return nil, c.classify(ctx, "resources/list", err)
		}
		out = append(out, res.Resources...)
		if res.NextCursor == "" {
			break
		}
		cursor = string(res.NextCursor)
	}
	return out, nil
}

// ListResourceTemplates auto-paginates resources/templates/list.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]mcpgo.ResourceTemplate, error) {
	var out []mcpgo.ResourceTemplate
	cursor := ""
	for {
		cctx, cancel := c.withTimeout(ctx)
		req := mcpgo.ListResourceTemplatesRequest{}
		if cursor != "" {
			req.Params.Cursor = mcpgo.Cursor(cursor)
		}
		res, err := c.raw.ListResourceTemplates(cctx, req)
		cancel()
		if err != nil {
			return nil, c.classify(ctx, "resources/templates/list", err)
		}
		out = append(out, res.ResourceTemplates...)
		if res.NextCursor == "" {
			break
		}
		cursor = string(res.NextCursor)
	}
	return out, nil
}

// CallTool invokes one tool and returns its textual output, or an error
// folded as a codial.ToolResult.Error by the caller (the Turn Engine never
// retries a tool call itself — spec.md §4.7/§9).
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.raw.CallTool(cctx, req)
	if err != nil {
		return "", c.classify(ctx, "tools/call", err)
	}
	if res.IsError {
		return "", fmt.Errorf("mcp tool %q returned an error result: %s", name, contentToText(res.Content))
	}
	return contentToText(res.Content), nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.raw.Ping(cctx); err != nil {
		return c.classify(ctx, "ping", err)
	}
	return nil
}

func (c *Client) classify(ctx context.Context, method string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return codialerr.MCPTimeout("", method)
	}
	return codialerr.New(codialerr.CodeMCPError, "", fmt.Sprintf("%s: %v", method, err))
}

func contentToText(content []mcpgo.Content) string {
	var out string
	for _, c := range content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}

func schemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": schema.Properties,
		"required":   schema.Required,
	}
}
