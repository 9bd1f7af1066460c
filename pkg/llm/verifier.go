package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Verifier is the persona that judges whether executed tool calls actually
// completed an item. It sees only masked result text.
type Verifier struct {
	client  *Client
	prompts Catalog
	logger  *slog.Logger
}

// NewVerifier creates a verifier over the given client and prompt catalog.
func NewVerifier(client *Client, prompts Catalog) *Verifier {
	return &Verifier{
		client:  client,
		prompts: prompts,
		logger:  slog.With("component", "verifier"),
	}
}

// VerifyRequest carries one executed item into verification.
type VerifyRequest struct {
	Action  string
	Results []models.ToolResult
}

// Verify returns the verdict for one item execution. A missing or empty
// reason on a negative verdict is filled in so REPLAN always has something
// to work with.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*models.Verification, error) {
	var user strings.Builder
	user.WriteString("## Item\n")
	user.WriteString(req.Action)
	user.WriteString("\n\n")
	user.WriteString(FormatResultsSection(req.Results))

	resp, err := v.client.Complete(ctx, Request{
		Label:    "verification",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: v.prompts.Get(PromptVerification)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Verified    bool     `json:"verified"`
		Reason      string   `json:"reason"`
		Suggestions []string `json:"suggestions"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(payload.Reason)
	if !payload.Verified && reason == "" {
		reason = "verification failed without a stated reason"
	}
	v.logger.Info("Verification complete", "verified", payload.Verified, "reason", reason)
	return &models.Verification{
		Verified:    payload.Verified,
		Reason:      reason,
		Suggestions: payload.Suggestions,
	}, nil
}

// ReviewToolPlan judges a planned call list before execution: does the
// plan plausibly work the item, and does it stay within what the item
// asks for. The optional llm validation stage consumes this.
func (v *Verifier) ReviewToolPlan(ctx context.Context, action string, calls []models.ToolCall) (*models.Verification, error) {
	var user strings.Builder
	user.WriteString("## Item\n")
	user.WriteString(action)
	user.WriteString("\n\n")
	user.WriteString(FormatPlannedCalls(calls))

	resp, err := v.client.Complete(ctx, Request{
		Label:    "plan_review",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: v.prompts.Get(PromptPlanReview)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Verified    bool     `json:"verified"`
		Reason      string   `json:"reason"`
		Suggestions []string `json:"suggestions"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(payload.Reason)
	if !payload.Verified && reason == "" {
		reason = "plan review failed without a stated reason"
	}
	v.logger.Info("Plan review complete", "verified", payload.Verified, "reason", reason)
	return &models.Verification{
		Verified:    payload.Verified,
		Reason:      reason,
		Suggestions: payload.Suggestions,
	}, nil
}
