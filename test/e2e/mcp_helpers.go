package e2e

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/mcp"
)

// emptySchema accepts any parameter object. Tool doubles in this suite
// exercise the pipeline's name validation, not schema shape.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// MemoryMCP is an in-memory MCP server connected over SDK transports, the
// stand-in for a spawned stdio server.
type MemoryMCP struct {
	name            string
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
}

// StartMemoryMCP creates an in-memory MCP server advertising the given
// wire-named tools and starts serving it.
func StartMemoryMCP(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *MemoryMCP {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &MemoryMCP{name: name, server: server, clientTransport: clientTransport}
}

// injectMemoryMCP connects to the in-memory transport and registers the
// session with the manager as a ready server, catalog probed the normal way.
func injectMemoryMCP(t *testing.T, m *mcp.Manager, serverID string, ms *MemoryMCP) {
	t.Helper()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "maestro-e2e", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), ms.clientTransport, nil)
	require.NoError(t, err)
	require.NoError(t, m.InjectServer(context.Background(), serverID, nil, client, session))
}

// StaticToolHandler always succeeds with the given text.
func StaticToolHandler(text string) mcpsdk.ToolHandler {
	return func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return textResult(text, false), nil
	}
}

// ErrorToolHandler always fails with the given text as an IsError result,
// the way MCP servers report tool-level failures.
func ErrorToolHandler(text string) mcpsdk.ToolHandler {
	return func(context.Context, *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return textResult(text, true), nil
	}
}

// BlockingToolHandler signals started, then holds the call until release
// closes. Reconnection tests use it to fail a server mid-call.
func BlockingToolHandler(started chan<- struct{}, release <-chan struct{}, text string) mcpsdk.ToolHandler {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return textResult(text, false), nil
	}
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}
