package llm

import (
	"context"
	"strings"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Summarizer is the persona that digests a finished run into the final
// user-facing summary.
type Summarizer struct {
	client  *Client
	prompts Catalog
}

// NewSummarizer creates a summarizer over the given client and prompt catalog.
func NewSummarizer(client *Client, prompts Catalog) *Summarizer {
	return &Summarizer{client: client, prompts: prompts}
}

// SummaryRequest carries the finished run into summarization.
type SummaryRequest struct {
	Message  string
	Todo     *models.Todo
	Analysis string
}

// Summarize produces the final plain-text summary of a task run.
func (s *Summarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	var user strings.Builder
	user.WriteString("## Original Request\n")
	user.WriteString(req.Message)
	user.WriteString("\n\n")
	if req.Analysis != "" {
		user.WriteString("## Task Analysis\n")
		user.WriteString(req.Analysis)
		user.WriteString("\n\n")
	}
	user.WriteString(FormatItemOutcomes(req.Todo))

	resp, err := s.client.Complete(ctx, Request{
		Label: "final_summary",
		Messages: []Message{
			{Role: RoleSystem, Content: s.prompts.Get(PromptFinalSummary)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
