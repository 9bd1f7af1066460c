// Package validation runs planned tool calls through staged checks before
// anything reaches an MCP server. Stages are ordered cheapest first; a
// critical stage rejects the whole call list on failure, a non-critical
// stage only advises, and any stage may hand back a repaired copy of the
// list that later stages and the final result build on.
package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Stage names as they appear in results, logs and metrics.
const (
	StageFormat  = "format"
	StageHistory = "history"
	StageSchema  = "schema"
	StageSync    = "mcp_sync"
	StageLLM     = "llm"
)

// Input is what a stage sees: the action being worked plus the call list
// as corrected by earlier stages.
type Input struct {
	Action string
	Calls  []models.ToolCall
}

// Outcome is a single stage's verdict. Calls carries the corrected list
// when the stage repaired something; nil means the input list stands.
type Outcome struct {
	Valid       bool
	Errors      []string
	Warnings    []string
	Corrections []Correction
	Calls       []models.ToolCall
}

// Stage is one validator in the pipeline.
type Stage interface {
	// Name identifies the stage in results, logs and metrics.
	Name() string

	// Critical reports whether a failure of this stage rejects the call
	// list. Failures of non-critical stages downgrade to warnings.
	Critical() bool

	// Check validates the calls. Implementations must not mutate in.Calls;
	// repaired copies travel back through Outcome.Calls.
	Check(ctx context.Context, in Input) Outcome
}

// Catalog supplies live tool definitions for the servers in scope.
// *mcp.Executor satisfies it.
type Catalog interface {
	ListTools(ctx context.Context) ([]models.ToolDefinition, error)
	Servers() []string
}

// CorrectionKind classifies an automatic repair.
type CorrectionKind string

const (
	CorrectionParameterRenamed  CorrectionKind = "parameter_renamed"
	CorrectionTypeCoerced       CorrectionKind = "type_coerced"
	CorrectionToolNameCorrected CorrectionKind = "tool_name_corrected"
	CorrectionToolPrefixAdded   CorrectionKind = "tool_prefix_added"
)

// Correction records one repair applied to a planned call.
type Correction struct {
	Kind      CorrectionKind `json:"kind"`
	Stage     string         `json:"stage"`
	CallIndex int            `json:"call_index"`

	// Field is the parameter name involved, empty for tool-name repairs.
	Field string `json:"field,omitempty"`

	From string `json:"from"`
	To   string `json:"to"`

	// Similarity is the fuzzy score that justified a rename, zero for
	// mechanical repairs such as type coercion.
	Similarity float64 `json:"similarity,omitempty"`
}

// Issue is one problem found during validation, attributed to its stage.
type Issue struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Stage + ": " + i.Message
}

// Result is the pipeline verdict for one planned call list.
type Result struct {
	Valid bool `json:"valid"`

	// Calls is the call list with every correction applied. It is what
	// should be executed when Valid is true.
	Calls []models.ToolCall `json:"calls"`

	Errors      []Issue      `json:"errors,omitempty"`
	Warnings    []Issue      `json:"warnings,omitempty"`
	Corrections []Correction `json:"corrections,omitempty"`

	// StagesExecuted lists stage names in execution order. Stages after an
	// early rejection never run and do not appear.
	StagesExecuted []string `json:"stages_executed"`

	// RejectedAt names the critical stage that stopped the pipeline,
	// empty when the result is valid.
	RejectedAt string `json:"rejected_at,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Err converts a rejected result into an *Error. Valid results yield nil.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Error{RejectedAt: r.RejectedAt, Issues: slices.Clone(r.Errors)}
}

// Error is the error form of a rejected validation result.
type Error struct {
	RejectedAt string
	Issues     []Issue
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("tool calls rejected at %s stage", e.RejectedAt)
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("tool calls rejected at %s stage: %s",
		e.RejectedAt, strings.Join(msgs, "; "))
}
