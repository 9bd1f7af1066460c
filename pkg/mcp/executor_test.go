package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/masking"
	"github.com/maestro-agent/maestro/pkg/models"
)

func TestExecutor_Execute(t *testing.T) {
	ts := startTestServer(t, "filesystem", map[string]mcpsdk.ToolHandler{
		"list_directory": echoHandler("path"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"filesystem": ts})

	ring := history.NewRing(10)
	executor := NewExecutor(m, nil, ring, []string{"filesystem"}, "sess-1")

	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server:     "filesystem",
		Tool:       "filesystem__list_directory",
		Parameters: map[string]any{"path": "/tmp"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "path=/tmp", result.Text)
	assert.Greater(t, result.Duration, time.Duration(0))

	// The execution lands in the tool history under the session.
	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "filesystem", entries[0].Server)
	assert.Equal(t, "filesystem__list_directory", entries[0].Tool)
	assert.Equal(t, "sess-1", entries[0].SessionID)
	assert.True(t, entries[0].Success)
	assert.Empty(t, entries[0].Error)
}

func TestExecutor_Execute_ServerNotAllowed(t *testing.T) {
	ts := startTestServer(t, "filesystem", map[string]mcpsdk.ToolHandler{
		"list_directory": echoHandler("path"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"filesystem": ts})

	ring := history.NewRing(10)
	executor := NewExecutor(m, nil, ring, []string{"github"}, "sess-1")

	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server: "filesystem",
		Tool:   "filesystem__list_directory",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "not available")
	assert.Contains(t, result.Text, "github")

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestExecutor_Execute_ToolError(t *testing.T) {
	ts := startTestServer(t, "k8s", map[string]mcpsdk.ToolHandler{
		"bad_tool": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{
					Text: "invalid namespace\ndetails follow",
				}},
				IsError: true,
			}, nil
		},
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"k8s": ts})

	ring := history.NewRing(10)
	executor := NewExecutor(m, nil, ring, []string{"k8s"}, "sess-1")

	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server: "k8s", Tool: "bad_tool",
	})
	require.NoError(t, err) // the failure rides in the result
	assert.True(t, result.IsError)

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "invalid namespace", entries[0].Error,
		"history keeps the first line of the failure output")
}

func TestExecutor_Execute_ServerDead(t *testing.T) {
	ts := startTestServer(t, "flaky", map[string]mcpsdk.ToolHandler{
		"ping": echoHandler("x"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"flaky": ts})
	m.DropServer("flaky", errors.New("broken pipe"))

	ring := history.NewRing(10)
	executor := NewExecutor(m, nil, ring, []string{"flaky"}, "sess-1")

	// A dead transport is an execution failure the verifier reasons about,
	// not a Go error.
	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server: "flaky", Tool: "ping",
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "MCP tool execution failed")

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestExecutor_Execute_ContextCanceled(t *testing.T) {
	ts := startTestServer(t, "slow", map[string]mcpsdk.ToolHandler{
		"hang": func(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			return textResult("done"), nil
		},
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"slow": ts})

	ring := history.NewRing(10)
	executor := NewExecutor(m, nil, ring, []string{"slow"}, "sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.Execute(ctx, models.ToolCall{Server: "slow", Tool: "hang"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Cancellation is the caller's doing, not a tool outcome; nothing is
	// recorded.
	assert.Equal(t, 0, ring.Len())
}

func TestExecutor_Execute_Masking(t *testing.T) {
	ts := startTestServer(t, "vault", map[string]mcpsdk.ToolHandler{
		"read_secret": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult(`password: hunter2secret`), nil
		},
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"vault": ts})

	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"vault": {
			Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
			DataMasking: &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"basic"},
			},
		},
	})
	maskingService := masking.NewMaskingService(registry)

	executor := NewExecutor(m, maskingService, nil, []string{"vault"}, "sess-1")

	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server: "vault", Tool: "read_secret",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "__MASKED_PASSWORD__")
	assert.NotContains(t, result.Text, "hunter2secret")
}

func TestExecutor_Execute_TruncatesOversizedOutput(t *testing.T) {
	huge := strings.Repeat("x", DefaultResultMaxTokens*charsPerToken+1000)
	ts := startTestServer(t, "noisy", map[string]mcpsdk.ToolHandler{
		"dump": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult(huge), nil
		},
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"noisy": ts})

	executor := NewExecutor(m, nil, nil, []string{"noisy"}, "sess-1")

	result, err := executor.Execute(context.Background(), models.ToolCall{
		Server: "noisy", Tool: "dump",
	})
	require.NoError(t, err)
	assert.Less(t, len(result.Text), len(huge))
	assert.Contains(t, result.Text, "[TRUNCATED:")
}

func TestExecutor_ListTools(t *testing.T) {
	k8s := startTestServer(t, "k8s", map[string]mcpsdk.ToolHandler{
		"get_pods": echoHandler("ns"),
	})
	gh := startTestServer(t, "github", map[string]mcpsdk.ToolHandler{
		"list_repos": echoHandler("org"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{
		"k8s": k8s, "github": gh,
	})

	executor := NewExecutor(m, nil, nil, []string{"k8s", "github"}, "sess-1")

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "k8s__get_pods")
	assert.Contains(t, names, "github__list_repos")
}

func TestExecutor_ListTools_PartialFailure(t *testing.T) {
	k8s := startTestServer(t, "k8s", map[string]mcpsdk.ToolHandler{
		"get_pods": echoHandler("ns"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"k8s": k8s})

	executor := NewExecutor(m, nil, nil, []string{"k8s", "ghost"}, "sess-1")

	tools, err := executor.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "k8s__get_pods", tools[0].Name)
}

func TestExecutor_ListTools_AllFail(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	executor := NewExecutor(m, nil, nil, []string{"ghost"}, "sess-1")

	_, err := executor.ListTools(context.Background())
	assert.ErrorIs(t, err, config.ErrMCPServerNotFound)
}

func TestExecutor_Servers(t *testing.T) {
	m := newTestManager(t, Options{}, nil)
	executor := NewExecutor(m, nil, nil, []string{"a", "b"}, "sess-1")

	servers := executor.Servers()
	servers[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, executor.Servers())
}

func TestExecutorFactory_ForSession(t *testing.T) {
	ts := startTestServer(t, "filesystem", map[string]mcpsdk.ToolHandler{
		"read_file": echoHandler("path"),
	})
	m := newTestManager(t, Options{}, map[string]*testMCPServer{"filesystem": ts})

	ring := history.NewRing(10)
	factory := NewExecutorFactory(m, nil, ring)

	exec1 := factory.ForSession("sess-1", []string{"filesystem"})
	exec2 := factory.ForSession("sess-2", nil)

	assert.Equal(t, []string{"filesystem"}, exec1.Servers())
	assert.Empty(t, exec2.Servers())
	assert.Same(t, m, factory.Manager())

	result, err := exec1.Execute(context.Background(), models.ToolCall{
		Server: "filesystem", Tool: "read_file",
		Parameters: map[string]any{"path": "/etc/hosts"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "sess-1", entries[0].SessionID)
}

func TestErrorSummary(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single line", input: "bad request", expected: "bad request"},
		{name: "multi line keeps first", input: "bad request\nstack trace", expected: "bad request"},
		{name: "empty", input: "", expected: ""},
		{name: "long line capped", input: strings.Repeat("e", 300), expected: strings.Repeat("e", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorSummary(tt.input))
		})
	}
}
