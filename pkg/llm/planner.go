package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Planner is the persona behind mode selection, chat answers, todo planning,
// server selection, tool planning, and replanning. It is stateless; all
// context arrives in the request structs.
type Planner struct {
	client  *Client
	prompts Catalog
	logger  *slog.Logger
}

// NewPlanner creates a planner over the given client and prompt catalog.
func NewPlanner(client *Client, prompts Catalog) *Planner {
	return &Planner{
		client:  client,
		prompts: prompts,
		logger:  slog.With("component", "planner"),
	}
}

// SelectMode classifies a user message into chat, task, or dev.
func (p *Planner) SelectMode(ctx context.Context, message string) (models.Mode, error) {
	resp, err := p.client.Complete(ctx, Request{
		Label:    "mode_selection",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: p.prompts.Get(PromptModeSelection)},
			{Role: RoleUser, Content: message},
		},
	})
	if err != nil {
		return "", err
	}

	var decision struct {
		Mode   string `json:"mode"`
		Reason string `json:"reason"`
	}
	if err := decodeReply(resp.Content, &decision); err != nil {
		return "", err
	}

	mode := models.Mode(strings.ToLower(strings.TrimSpace(decision.Mode)))
	if !mode.IsValid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrMalformedReply, decision.Mode)
	}
	p.logger.Info("Mode selected", "mode", mode, "reason", decision.Reason)
	return mode, nil
}

// Chat produces a single conversational answer for CHAT mode.
func (p *Planner) Chat(ctx context.Context, message string) (string, error) {
	resp, err := p.client.Complete(ctx, Request{
		Label: "chat",
		Messages: []Message{
			{Role: RoleSystem, Content: p.prompts.Get(PromptChat)},
			{Role: RoleUser, Content: message},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// TodoRequest carries the task and the enrichment snapshot into planning.
type TodoRequest struct {
	Message string
	// Context is the pre-formatted enrichment blob: ready servers, catalog
	// summary, and the recent-execution summary.
	Context string
}

// TodoPlan is the parsed planner output. Warnings record items or
// dependencies that were dropped during parsing.
type TodoPlan struct {
	Todo     *models.Todo
	Analysis string
	Warnings []string
}

// todoItemPayload is the wire shape of one planned item.
type todoItemPayload struct {
	ID         string   `json:"id"`
	Action     string   `json:"action"`
	DependsOn  []string `json:"depends_on"`
	TTSPhrases []string `json:"tts_phrases"`
}

// PlanTodo asks the model for an ordered todo list and parses it into items.
// Unknown dependency ids are dropped with a warning rather than failing the
// whole plan.
func (p *Planner) PlanTodo(ctx context.Context, req TodoRequest) (*TodoPlan, error) {
	var user strings.Builder
	user.WriteString("## Task\n")
	user.WriteString(req.Message)
	user.WriteString("\n")
	if req.Context != "" {
		user.WriteString("\n## Environment\n")
		user.WriteString(req.Context)
		user.WriteString("\n")
	}

	resp, err := p.client.Complete(ctx, Request{
		Label:    "todo_planning",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: p.prompts.Get(PromptTodoPlanning)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Analysis string            `json:"analysis"`
		Items    []todoItemPayload `json:"items"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}

	items, warnings := parseItems(payload.Items)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: planner produced no usable items", ErrMalformedReply)
	}

	// Drop dependencies that reference ids outside the plan.
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}
	for _, item := range items {
		kept := item.DependsOn[:0]
		for _, dep := range item.DependsOn {
			if known[dep] {
				kept = append(kept, dep)
			} else {
				warnings = append(warnings, fmt.Sprintf("item %s depends on unknown item %q, dependency dropped", item.ID, dep))
			}
		}
		item.DependsOn = kept
	}

	for _, w := range warnings {
		p.logger.Warn("Todo plan adjusted", "warning", w)
	}
	return &TodoPlan{
		Todo:     &models.Todo{Items: items},
		Analysis: payload.Analysis,
		Warnings: warnings,
	}, nil
}

// parseItems converts wire items into models, skipping unusable entries.
// Missing ids are generated positionally; duplicate ids drop the later item.
func parseItems(payloads []todoItemPayload) ([]*models.Item, []string) {
	var warnings []string
	items := make([]*models.Item, 0, len(payloads))
	seen := make(map[string]bool, len(payloads))

	for i, entry := range payloads {
		action := strings.TrimSpace(entry.Action)
		if action == "" {
			warnings = append(warnings, fmt.Sprintf("item %d has no action, dropped", i+1))
			continue
		}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			id = fmt.Sprintf("item_%d", i+1)
		}
		if seen[id] {
			warnings = append(warnings, fmt.Sprintf("duplicate item id %q, later item dropped", id))
			continue
		}
		seen[id] = true
		items = append(items, &models.Item{
			ID:          id,
			Action:      action,
			DependsOn:   entry.DependsOn,
			Status:      models.ItemPending,
			MaxAttempts: models.DefaultMaxAttempts,
			TTSPhrases:  entry.TTSPhrases,
		})
	}
	return items, warnings
}

// ServerSelectionRequest carries one item and the connected-server snapshot.
type ServerSelectionRequest struct {
	Action         string
	Available      []string
	CatalogSummary string
}

// ServerSelection is the parsed selection: servers filtered to the available
// set, plus any prompt ids the planner marked relevant.
type ServerSelection struct {
	Servers []string
	Prompts []string
}

// SelectServers picks the servers relevant for one item. Servers outside the
// available set are dropped; an empty result falls back to every available
// server so the item can still proceed.
func (p *Planner) SelectServers(ctx context.Context, req ServerSelectionRequest) (*ServerSelection, error) {
	var user strings.Builder
	user.WriteString("## Item\n")
	user.WriteString(req.Action)
	user.WriteString("\n\n")
	user.WriteString(FormatServerList(req.Available, req.CatalogSummary))

	resp, err := p.client.Complete(ctx, Request{
		Label:    "server_selection",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: p.prompts.Get(PromptServerSelection)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Servers []string `json:"servers"`
		Prompts []string `json:"prompts"`
		Reason  string   `json:"reason"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}

	available := make(map[string]bool, len(req.Available))
	for _, server := range req.Available {
		available[server] = true
	}
	servers := make([]string, 0, len(payload.Servers))
	for _, server := range payload.Servers {
		server = strings.TrimSpace(server)
		if available[server] {
			servers = append(servers, server)
		} else if server != "" {
			p.logger.Warn("Selected server not connected, dropped", "server", server)
		}
	}
	if len(servers) == 0 {
		p.logger.Warn("Server selection empty, falling back to all connected servers")
		servers = append(servers, req.Available...)
	}

	prompts := make([]string, 0, len(payload.Prompts))
	for _, id := range payload.Prompts {
		if p.prompts.Has(id) {
			prompts = append(prompts, id)
		}
	}
	return &ServerSelection{Servers: servers, Prompts: prompts}, nil
}

// ToolPlanRequest carries one item and its tool catalog into tool planning.
type ToolPlanRequest struct {
	Action string
	Tools  []models.ToolDefinition
	// History is the recent-execution summary from the history ring.
	History string
	// Feedback carries verifier suggestions when replanning a retry.
	Feedback string
	// ExtraPrompts are catalog ids selected for this item; their text is
	// appended to the system prompt.
	ExtraPrompts []string
}

// ToolPlan is the parsed tool-planning output.
type ToolPlan struct {
	Calls      []models.ToolCall
	TTSPhrases []string
}

// PlanTools asks the model for the exact call sequence completing one item.
// The plan is returned as-is; the validation pipeline owns correction.
func (p *Planner) PlanTools(ctx context.Context, req ToolPlanRequest) (*ToolPlan, error) {
	system := p.prompts.Get(PromptToolPlanning)
	for _, id := range req.ExtraPrompts {
		if text := p.prompts.Get(id); text != "" {
			system += "\n\n" + text
		}
	}

	var user strings.Builder
	user.WriteString("## Item\n")
	user.WriteString(req.Action)
	user.WriteString("\n\n")
	user.WriteString(FormatToolCatalog(req.Tools))
	if req.History != "" {
		user.WriteString("\n## Recent Executions\n")
		user.WriteString(req.History)
		user.WriteString("\n")
	}
	if req.Feedback != "" {
		user.WriteString("\n## Feedback From Last Attempt\n")
		user.WriteString(req.Feedback)
		user.WriteString("\n")
	}

	resp, err := p.client.Complete(ctx, Request{
		Label:    "tool_planning",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ToolCalls []struct {
			Server     string          `json:"server"`
			Tool       string          `json:"tool"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"tool_calls"`
		TTSPhrases []string `json:"tts_phrases"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}
	if len(payload.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: tool planning produced no calls", ErrMalformedReply)
	}

	calls := make([]models.ToolCall, 0, len(payload.ToolCalls))
	for i, call := range payload.ToolCalls {
		params, err := decodeParameters(call.Parameters)
		if err != nil {
			p.logger.Warn("Tool call parameters unusable, call dropped",
				"index", i, "tool", call.Tool, "error", err)
			continue
		}
		calls = append(calls, models.ToolCall{
			Server:     strings.TrimSpace(call.Server),
			Tool:       strings.TrimSpace(call.Tool),
			Parameters: params,
		})
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("%w: tool planning produced no usable calls", ErrMalformedReply)
	}
	return &ToolPlan{Calls: calls, TTSPhrases: payload.TTSPhrases}, nil
}

// decodeParameters accepts the parameter shapes models actually emit. The
// normal case is a JSON object; smaller models sometimes pack parameters into
// a single string of JSON, YAML, or key-value lines, which the parameter
// cascade salvages into a map.
func decodeParameters(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}

	var object map[string]any
	if err := json.Unmarshal(raw, &object); err == nil {
		if object == nil {
			object = map[string]any{}
		}
		return object, nil
	}

	var blob string
	if err := json.Unmarshal(raw, &blob); err == nil {
		return mcp.ParseParams(blob)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: parameters are not valid JSON", ErrMalformedReply)
	}
	return map[string]any{"input": value}, nil
}

// ReplanRequest carries a failed item into the replanner.
type ReplanRequest struct {
	Item *models.Item
	// FailureReason summarizes why verification failed or why execution was
	// blocked.
	FailureReason string
	History       string
}

// Replan decides how to proceed after a failed item: retry, replace with new
// items, or skip. New items come back pending with fresh attempt counters;
// the workflow links and inserts them.
func (p *Planner) Replan(ctx context.Context, req ReplanRequest) (*models.ReplanDecision, error) {
	var user strings.Builder
	user.WriteString("## Failed Item\n")
	user.WriteString(req.Item.Action)
	user.WriteString("\n\n## Failure\n")
	user.WriteString(req.FailureReason)
	user.WriteString("\n")
	fmt.Fprintf(&user, "\nAttempts used: %d of %d\n", req.Item.AttemptCount, req.Item.MaxAttempts)
	if req.History != "" {
		user.WriteString("\n## Recent Executions\n")
		user.WriteString(req.History)
		user.WriteString("\n")
	}

	resp, err := p.client.Complete(ctx, Request{
		Label:    "replan",
		JSONMode: true,
		Messages: []Message{
			{Role: RoleSystem, Content: p.prompts.Get(PromptReplan)},
			{Role: RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Action   string            `json:"action"`
		Reason   string            `json:"reason"`
		NewItems []todoItemPayload `json:"new_items"`
	}
	if err := decodeReply(resp.Content, &payload); err != nil {
		return nil, err
	}

	action := models.ReplanAction(strings.ToLower(strings.TrimSpace(payload.Action)))
	switch action {
	case models.ReplanRetry, models.ReplanSkipAndContinue:
		return &models.ReplanDecision{Action: action, Reason: payload.Reason}, nil
	case models.ReplanNewItems:
		items, warnings := parseItems(payload.NewItems)
		for _, w := range warnings {
			p.logger.Warn("Replan items adjusted", "warning", w)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: replan chose new_items but provided none", ErrMalformedReply)
		}
		return &models.ReplanDecision{Action: action, NewItems: items, Reason: payload.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: unknown replan action %q", ErrMalformedReply, payload.Action)
	}
}
