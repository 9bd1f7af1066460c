package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/masking"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Executor runs validated tool calls for one session against the shared
// manager, scoped to the servers selected for the current item.
type Executor struct {
	manager   *Manager
	masking   *masking.MaskingService
	history   *history.Ring
	servers   []string
	sessionID string
	logger    *slog.Logger
}

// NewExecutor creates an executor restricted to the given servers.
// maskingService and ring may be nil (masking and history recording
// disabled).
func NewExecutor(
	manager *Manager,
	maskingService *masking.MaskingService,
	ring *history.Ring,
	servers []string,
	sessionID string,
) *Executor {
	return &Executor{
		manager:   manager,
		masking:   maskingService,
		history:   ring,
		servers:   servers,
		sessionID: sessionID,
		logger:    manager.logger.With("session_id", sessionID),
	}
}

// Execute runs a tool call via MCP.
//
// Flow:
//  1. Check the server is in the item's selected set
//  2. Manager.Call resolves the wire name and executes behind the write gate
//  3. Extract text content, truncate oversized output
//  4. Apply data masking
//  5. Record the outcome in the tool history
//
// MCP-level failures come back as IsError results, not Go errors: the
// verifier reasons about them. Only caller cancellation surfaces as an
// error.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	started := time.Now()

	if !slices.Contains(e.servers, call.Server) {
		return e.record(failedResult(call, started, fmt.Sprintf(
			"MCP server %q is not available for this item. Available servers: %s",
			call.Server, strings.Join(e.servers, ", ")))), nil
	}

	result, err := e.manager.Call(ctx, call.Server, call.Tool, call.Parameters)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.record(failedResult(call, started, fmt.Sprintf(
			"MCP tool execution failed: %s", err))), nil
	}

	text := TruncateResult(extractTextContent(result))
	if e.masking != nil {
		text = e.masking.MaskToolResult(text, call.Server)
	}

	return e.record(&models.ToolResult{
		Call:      call,
		Text:      text,
		IsError:   result.IsError,
		Duration:  time.Since(started),
		Timestamp: started,
	}), nil
}

// ListTools aggregates the catalogs of the executor's servers.
// Returns partial results if some servers fail (logs errors, does not
// abort); errors only when every server fails.
func (e *Executor) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	var all []models.ToolDefinition
	var lastErr error
	for _, id := range e.servers {
		defs, err := e.manager.Tools(ctx, id)
		if err != nil {
			lastErr = err
			e.logger.Warn("Failed to list tools from MCP server",
				"server", id, "error", err)
			continue
		}
		all = append(all, defs...)
	}

	if len(all) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return all, nil
}

// Servers returns the executor's allowed server set.
func (e *Executor) Servers() []string {
	return slices.Clone(e.servers)
}

// record mirrors an execution outcome into the tool history and returns the
// result unchanged.
func (e *Executor) record(result *models.ToolResult) *models.ToolResult {
	if e.history == nil {
		return result
	}
	entry := history.Entry{
		Server:     result.Call.Server,
		Tool:       result.Call.Tool,
		ParamsHash: history.ParamsHash(result.Call.Parameters),
		Success:    !result.IsError,
		Duration:   result.Duration,
		Timestamp:  result.Timestamp,
		SessionID:  e.sessionID,
	}
	if result.IsError {
		entry.Error = errorSummary(result.Text)
	}
	e.history.Record(entry)
	return result
}

// failedResult wraps an executor-level failure as an IsError result.
func failedResult(call models.ToolCall, started time.Time, text string) *models.ToolResult {
	return &models.ToolResult{
		Call:      call,
		Text:      text,
		IsError:   true,
		Duration:  time.Since(started),
		Timestamp: started,
	}
}

// errorSummary reduces failure output to its first line, bounded, for the
// history record.
func errorSummary(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 200
	if len(text) > max {
		return text[:max]
	}
	return text
}

// extractTextContent extracts text from an MCP CallToolResult.
// Concatenates all TextContent items. Non-text content (images, embedded
// resources) is logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}
