package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// FormatToolCatalog builds the available-tools section for the tool planner.
// Schemas are included verbatim so the model sees required parameters.
func FormatToolCatalog(tools []models.ToolDefinition) string {
	if len(tools) == 0 {
		return "## Available Tools\nNo tools are available.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	for _, tool := range tools {
		sb.WriteString("- ")
		sb.WriteString(tool.Name)
		if tool.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(tool.Description)
		}
		sb.WriteString("\n")
		if len(tool.InputSchema) > 0 {
			sb.WriteString("  schema: ")
			sb.Write(tool.InputSchema)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatPlannedCalls builds the planned-calls section for the plan
// reviewer. Parameters render as compact JSON.
func FormatPlannedCalls(calls []models.ToolCall) string {
	if len(calls) == 0 {
		return "## Planned Calls\nNo calls are planned.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Planned Calls\n")
	for i, call := range calls {
		sb.WriteString(fmt.Sprintf("%d. %s on %s", i+1, call.Tool, call.Server))
		if len(call.Parameters) > 0 {
			if data, err := json.Marshal(call.Parameters); err == nil {
				sb.WriteString(" with ")
				sb.Write(data)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatResultsSection builds the executed-results section for the verifier.
// Result text arrives already masked.
func FormatResultsSection(results []models.ToolResult) string {
	if len(results) == 0 {
		return "## Execution Results\nNo tool calls were executed.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Execution Results\n")
	for i, result := range results {
		status := "ok"
		if result.IsError {
			status = "ERROR"
		}
		sb.WriteString(fmt.Sprintf("### Call %d: %s (%s, %s)\n",
			i+1, result.Call.Tool, status, result.Duration.Round(time.Millisecond)))
		if result.Text == "" {
			sb.WriteString("(no output)\n")
		} else {
			sb.WriteString(result.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatItemOutcomes builds the per-item outcome list for the summarizer.
func FormatItemOutcomes(todo *models.Todo) string {
	if todo == nil || len(todo.Items) == 0 {
		return "## Item Outcomes\nNo items were planned.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Item Outcomes\n")
	for _, item := range todo.Items {
		sb.WriteString(fmt.Sprintf("- [%s] %s", item.Status, item.Action))
		switch {
		case item.Status == models.ItemSkipped && item.SkipReason != "":
			sb.WriteString(" (skipped: " + item.SkipReason + ")")
		case item.Status == models.ItemFailed && item.LastVerification != nil && item.LastVerification.Reason != "":
			sb.WriteString(" (failed: " + item.LastVerification.Reason + ")")
		case item.ReplannedFrom != "":
			sb.WriteString(" (replaces " + item.ReplannedFrom + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatServerList builds the connected-servers section for server selection.
func FormatServerList(servers []string, catalogSummary string) string {
	var sb strings.Builder
	sb.WriteString("## Connected Servers\n")
	if len(servers) == 0 {
		sb.WriteString("No servers are connected.\n")
		return sb.String()
	}
	for _, server := range servers {
		sb.WriteString("- ")
		sb.WriteString(server)
		sb.WriteString("\n")
	}
	if catalogSummary != "" {
		sb.WriteString("\n## Tool Catalog Summary\n")
		sb.WriteString(catalogSummary)
		sb.WriteString("\n")
	}
	return sb.String()
}
