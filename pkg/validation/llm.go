package validation

import (
	"context"
	"fmt"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Reviewer is the model-backed judgment behind the optional llm stage.
type Reviewer interface {
	// ReviewToolPlan judges whether the planned calls are a sensible and
	// safe way to work the given action.
	ReviewToolPlan(ctx context.Context, action string, calls []models.ToolCall) (*models.Verification, error)
}

// LLMStage asks a model whether the planned calls make sense for the
// action being worked. It is advisory, off by default, and a review
// failure never blocks execution.
type LLMStage struct {
	reviewer Reviewer
}

// NewLLMStage creates the semantic review stage.
func NewLLMStage(reviewer Reviewer) *LLMStage {
	return &LLMStage{reviewer: reviewer}
}

func (s *LLMStage) Name() string   { return StageLLM }
func (s *LLMStage) Critical() bool { return false }

func (s *LLMStage) Check(ctx context.Context, in Input) Outcome {
	verification, err := s.reviewer.ReviewToolPlan(ctx, in.Action, in.Calls)
	if err != nil {
		return Outcome{Valid: true, Warnings: []string{
			fmt.Sprintf("semantic review unavailable: %s", err)}}
	}
	if verification.Verified {
		return Outcome{Valid: true}
	}

	reason := verification.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return Outcome{
		Errors:   []string{"semantic review rejected the plan: " + reason},
		Warnings: verification.Suggestions,
	}
}
