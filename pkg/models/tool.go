package models

import (
	"encoding/json"
	"time"
)

// ToolCall is one planned tool invocation. Tool carries the canonical
// `server__tool` name everywhere inside the core; conversion to the wire
// form happens only at the MCP boundary.
type ToolCall struct {
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolResult is the outcome of executing one tool call. MCP tool failures
// arrive as IsError results, not Go errors: the verifier reasons about them.
type ToolResult struct {
	Call      ToolCall      `json:"call"`
	Text      string        `json:"text,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Verification is the verifier's verdict for one item execution.
type Verification struct {
	Verified    bool     `json:"verified"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ReplanAction is the decision REPLAN takes for a failing item.
type ReplanAction string

const (
	ReplanNewItems        ReplanAction = "new_items"
	ReplanSkipAndContinue ReplanAction = "skip_and_continue"
	ReplanRetry           ReplanAction = "retry"
)

// ReplanDecision is the parsed replanner output.
type ReplanDecision struct {
	Action   ReplanAction `json:"action"`
	NewItems []*Item      `json:"new_items,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// ToolDefinition describes one tool from a server catalog, as surfaced to
// planners and validators. InputSchema is the raw JSON Schema document.
type ToolDefinition struct {
	Name        string          `json:"name"` // canonical server__tool
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
