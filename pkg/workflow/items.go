package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/models"
)

// handleItemLoop dispatches the next item into the inner cycle or closes
// the run. A returning cycle marks a pacing boundary; a terminal item
// releases the slot, an in-progress one (a granted retry) resumes.
func (e *Engine) handleItemLoop(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	sess := task.Session
	todo := sess.Todo
	if todo == nil || len(todo.Items) == 0 {
		return HandlerResult{}, &MissingContext{State: models.StateItemLoop, Field: "todo"}
	}

	if item := task.CurrentItem(); item != nil {
		task.cycleEnd = time.Now()
		if item.Status.IsTerminal() {
			task.CurrentItemID = ""
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return HandlerResult{}, err
		}

		if todo.AllTerminal() {
			return HandlerResult{Next: models.StateFinalSummary}, nil
		}

		item := e.nextItem(todo, task)
		if item == nil {
			if charged := e.chargeBlockedChecks(mc, task, todo); charged == 0 {
				return HandlerResult{}, fmt.Errorf("item loop stalled: no eligible items and none blocked")
			}
			continue
		}

		if err := e.paceItems(ctx, task); err != nil {
			return HandlerResult{}, err
		}

		item.Status = models.ItemInProgress
		task.CurrentItemID = item.ID
		task.failure = ""
		e.logger.Info("Working item",
			"session_id", sess.ID,
			"item_id", item.ID,
			"action", item.Action)
		mc.Publish(events.ItemStatus(sess.ID, item.ID, models.StateItemLoop.String(), "working: "+item.Action))
		return HandlerResult{Next: models.StateServerSelection}, nil
	}
}

// nextItem picks the item to work: the in-flight retry first, then the
// first pending item whose dependencies all completed.
func (e *Engine) nextItem(todo *models.Todo, task *Task) *models.Item {
	if item := task.CurrentItem(); item != nil && item.Status == models.ItemInProgress {
		return item
	}
	for _, item := range todo.Items {
		if item.Status != models.ItemPending {
			continue
		}
		if todo.DependenciesCompleted(item) {
			return item
		}
	}
	return nil
}

// chargeBlockedChecks increments the blocked counter on every pending
// item whose dependencies are unsatisfied, skipping items that reach the
// threshold. This is what breaks dependency cycles and items waiting on
// failed ancestors. Returns how many items were charged.
func (e *Engine) chargeBlockedChecks(mc MachineControl, task *Task, todo *models.Todo) int {
	charged := 0
	for _, item := range todo.Items {
		if item.Status != models.ItemPending || todo.DependenciesCompleted(item) {
			continue
		}
		item.BlockedCheckCount++
		charged++
		if item.BlockedCheckCount >= e.blockedAt {
			item.Status = models.ItemSkipped
			item.SkipReason = "blocked too many times"
			e.logger.Warn("Item skipped, dependencies never completed",
				"session_id", task.Session.ID,
				"item_id", item.ID,
				"checks", item.BlockedCheckCount)
			mc.Publish(events.ItemStatus(task.Session.ID, item.ID, models.StateItemLoop.String(), "skipped: blocked too many times"))
		}
	}
	return charged
}

// paceItems enforces the minimum delay between inner cycles.
func (e *Engine) paceItems(ctx context.Context, task *Task) error {
	if e.pacing <= 0 || task.cycleEnd.IsZero() {
		return nil
	}
	wait := e.pacing - time.Since(task.cycleEnd)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleServerSelection asks the planner which servers and prompt
// snippets fit the item. Selection trouble is not fatal to the run: it
// becomes the item's failure and flows on to REPLAN.
func (e *Engine) handleServerSelection(ctx context.Context, _ MachineControl, task *Task) (HandlerResult, error) {
	item := task.CurrentItem()
	if item == nil {
		return HandlerResult{}, &MissingContext{State: models.StateServerSelection, Field: "current_item"}
	}

	if len(task.ReadyServers) == 0 {
		task.failure = "no MCP servers are connected"
		return HandlerResult{Next: models.StateToolPlanning}, nil
	}

	sel, err := e.deps.Planner.SelectServers(ctx, llm.ServerSelectionRequest{
		Action:         item.Action,
		Available:      task.ReadyServers,
		CatalogSummary: task.CatalogSummary,
	})
	if err != nil {
		if ctxFailure(err) {
			return HandlerResult{}, err
		}
		task.failure = "server selection failed: " + err.Error()
		return HandlerResult{Next: models.StateToolPlanning}, nil
	}

	item.SelectedServers = sel.Servers
	item.SelectedPrompts = sel.Prompts
	return HandlerResult{Next: models.StateToolPlanning}, nil
}

// handleToolPlanning plans the item's calls against the selected
// servers' tools and runs the plan through the validation pipeline. Only
// a validated plan reaches EXECUTION; a rejection becomes the item's
// failure.
func (e *Engine) handleToolPlanning(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	item := task.CurrentItem()
	if item == nil {
		return HandlerResult{}, &MissingContext{State: models.StateToolPlanning, Field: "current_item"}
	}
	if task.failure != "" {
		return HandlerResult{Next: models.StateExecution}, nil
	}

	runner := e.deps.Runners(task.Session.ID, item.SelectedServers)
	tools, err := runner.ListTools(ctx)
	if err != nil {
		if ctxFailure(err) {
			return HandlerResult{}, err
		}
		task.failure = "tool catalog unavailable: " + err.Error()
		return HandlerResult{Next: models.StateExecution}, nil
	}
	if len(tools) == 0 {
		task.failure = "selected servers expose no tools"
		return HandlerResult{Next: models.StateExecution}, nil
	}

	plan, err := e.deps.Planner.PlanTools(ctx, llm.ToolPlanRequest{
		Action:       item.Action,
		Tools:        tools,
		History:      e.deps.History.FormatForPrompt(historyPromptLimit),
		Feedback:     retryFeedback(item),
		ExtraPrompts: item.SelectedPrompts,
	})
	if err != nil {
		if ctxFailure(err) {
			return HandlerResult{}, err
		}
		task.failure = "tool planning failed: " + err.Error()
		return HandlerResult{Next: models.StateExecution}, nil
	}

	result := e.deps.Validator.Validate(ctx, item.Action, plan.Calls)
	item.LastPlan = result.Calls
	item.TTSPhrases = plan.TTSPhrases
	if !result.Valid {
		task.failure = "plan rejected: " + result.Err().Error()
		return HandlerResult{Next: models.StateExecution}, nil
	}

	if n := len(result.Corrections); n > 0 {
		e.logger.Info("Plan repaired during validation",
			"session_id", task.Session.ID,
			"item_id", item.ID,
			"corrections", n)
	}
	mc.Publish(events.New(task.Session.ID, events.FrameStatus, events.StatusPayload{
		State:      models.StateToolPlanning.String(),
		Detail:     fmt.Sprintf("plan ready: %d calls", len(item.LastPlan)),
		ItemID:     item.ID,
		TTSPhrases: plan.TTSPhrases,
	}))
	return HandlerResult{Next: models.StateExecution}, nil
}

// retryFeedback renders the previous verdict for the planner when the
// item is on a retry attempt.
func retryFeedback(item *models.Item) string {
	v := item.LastVerification
	if v == nil || v.Verified || item.AttemptCount == 0 {
		return ""
	}
	feedback := v.Reason
	if len(v.Suggestions) > 0 {
		feedback += "\nSuggestions:\n- " + strings.Join(v.Suggestions, "\n- ")
	}
	return feedback
}

// handleExecution runs the validated plan call by call. Every call faces
// the inspector first; a non-allow verdict stops the item on the spot.
// Tool failures arrive as IsError results and are the verifier's to
// judge, so execution keeps going through them.
func (e *Engine) handleExecution(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	item := task.CurrentItem()
	if item == nil {
		return HandlerResult{}, &MissingContext{State: models.StateExecution, Field: "current_item"}
	}
	if task.failure != "" {
		return HandlerResult{Next: models.StateVerification}, nil
	}
	if len(item.LastPlan) == 0 {
		task.failure = "no tool calls were planned"
		return HandlerResult{Next: models.StateVerification}, nil
	}

	sess := task.Session
	runner := e.deps.Runners(sess.ID, item.SelectedServers)
	results := make([]models.ToolResult, 0, len(item.LastPlan))

	for _, call := range item.LastPlan {
		verdict := e.deps.Inspector.Inspect(call)
		switch verdict.Decision {
		case history.DecisionDeny:
			task.failure = "execution blocked: " + verdict.Reason
		case history.DecisionRequireApproval:
			// No approval channel exists yet, so a call requiring one
			// blocks the item and REPLAN decides how to proceed.
			task.failure = "approval required: " + verdict.Reason
		}
		if task.failure != "" {
			break
		}

		mc.Publish(events.ToolStarted(sess.ID, item.ID, call))
		result, err := runner.Execute(ctx, call)
		if err != nil {
			// Only context cancellation comes back as a Go error.
			return HandlerResult{}, err
		}
		results = append(results, *result)
		mc.Publish(events.ToolResult(sess.ID, item.ID, *result))
	}

	item.LastExecution = results
	return HandlerResult{Next: models.StateVerification}, nil
}

// handleVerification judges the executed item. An upstream failure from
// this cycle short-circuits into a negative verdict; a verifier outage
// fails closed the same way. Only a verified item completes.
func (e *Engine) handleVerification(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	item := task.CurrentItem()
	if item == nil {
		return HandlerResult{}, &MissingContext{State: models.StateVerification, Field: "current_item"}
	}
	sess := task.Session

	var verdict *models.Verification
	if task.failure != "" {
		verdict = &models.Verification{Verified: false, Reason: task.failure}
		task.failure = ""
	} else {
		v, err := e.deps.Verifier.Verify(ctx, llm.VerifyRequest{
			Action:  item.Action,
			Results: item.LastExecution,
		})
		if err != nil {
			if ctxFailure(err) {
				return HandlerResult{}, err
			}
			v = &models.Verification{Verified: false, Reason: "verification unavailable: " + err.Error()}
		}
		verdict = v
	}

	item.LastVerification = verdict
	mc.Publish(events.Verification(sess.ID, item.ID, *verdict))

	if verdict.Verified {
		item.Status = models.ItemCompleted
		mc.Publish(events.ItemStatus(sess.ID, item.ID, models.StateVerification.String(), "item completed"))
		return HandlerResult{Next: models.StateItemLoop}, nil
	}
	return HandlerResult{Next: models.StateReplan}, nil
}

// handleReplan decides what a failed cycle means for the item: another
// attempt while the budget lasts, replacement items, a skip, or failure.
// A replanner outage fails the item, never the run.
func (e *Engine) handleReplan(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	item := task.CurrentItem()
	if item == nil {
		return HandlerResult{}, &MissingContext{State: models.StateReplan, Field: "current_item"}
	}
	sess := task.Session

	reason := "item failed"
	if v := item.LastVerification; v != nil && v.Reason != "" {
		reason = v.Reason
	}

	decision, err := e.deps.Planner.Replan(ctx, llm.ReplanRequest{
		Item:          item,
		FailureReason: reason,
		History:       e.deps.History.FormatForPrompt(historyPromptLimit),
	})
	if err != nil {
		if ctxFailure(err) {
			return HandlerResult{}, err
		}
		e.failItem(mc, task, item, "replanning unavailable: "+err.Error())
		return e.afterReplan(task), nil
	}

	switch decision.Action {
	case models.ReplanRetry:
		if item.AttemptCount < e.maxAttemptsFor(item) {
			item.AttemptCount++
			e.logger.Info("Retrying item",
				"session_id", sess.ID,
				"item_id", item.ID,
				"attempt", item.AttemptCount)
			mc.Publish(events.ItemStatus(sess.ID, item.ID, models.StateReplan.String(),
				fmt.Sprintf("retrying, attempt %d of %d", item.AttemptCount, e.maxAttemptsFor(item))))
			return HandlerResult{Next: models.StateItemLoop}, nil
		}
		e.failItem(mc, task, item, "retry budget exhausted: "+reason)

	case models.ReplanSkipAndContinue:
		item.Status = models.ItemSkipped
		item.SkipReason = decision.Reason
		if item.SkipReason == "" {
			item.SkipReason = "skipped after failure"
		}
		mc.Publish(events.ItemStatus(sess.ID, item.ID, models.StateReplan.String(), "skipped: "+item.SkipReason))

	case models.ReplanNewItems:
		replacements := decision.NewItems
		ensureUniqueItemIDs(sess.Todo, item.ID, replacements)
		for _, repl := range replacements {
			repl.ReplannedFrom = item.ID
		}
		sess.Todo.InsertAfter(item.ID, replacements)
		rewireDependents(sess.Todo, item.ID, replacements)
		item.Status = models.ItemReplanned
		e.logger.Info("Item replanned",
			"session_id", sess.ID,
			"item_id", item.ID,
			"replacements", len(replacements))
		mc.Publish(events.ItemStatus(sess.ID, item.ID, models.StateReplan.String(),
			fmt.Sprintf("replaced by %d new items", len(replacements))))

	default:
		e.failItem(mc, task, item, "replanner returned an unusable decision")
	}

	return e.afterReplan(task), nil
}

// afterReplan routes back into the loop, or straight to the summary when
// the decision left nothing runnable.
func (e *Engine) afterReplan(task *Task) HandlerResult {
	if task.Session.Todo.AllTerminal() {
		return HandlerResult{Next: models.StateFinalSummary}
	}
	return HandlerResult{Next: models.StateItemLoop}
}

// failItem marks the item failed and records why.
func (e *Engine) failItem(mc MachineControl, task *Task, item *models.Item, reason string) {
	item.Status = models.ItemFailed
	if item.LastVerification == nil {
		item.LastVerification = &models.Verification{Verified: false, Reason: reason}
	}
	e.logger.Warn("Item failed",
		"session_id", task.Session.ID,
		"item_id", item.ID,
		"reason", reason)
	mc.Publish(events.ItemStatus(task.Session.ID, item.ID, models.StateReplan.String(), "failed: "+reason))
}

// maxAttemptsFor resolves the item's retry budget: its own when set,
// otherwise the configured default.
func (e *Engine) maxAttemptsFor(item *models.Item) int {
	if item.MaxAttempts > 0 {
		return item.MaxAttempts
	}
	return e.maxAttempts
}

// ensureUniqueItemIDs renames replacement items whose ids collide with
// the todo, fixing intra-batch dependency references along the way.
func ensureUniqueItemIDs(todo *models.Todo, parentID string, items []*models.Item) {
	renames := make(map[string]string)
	for i, item := range items {
		if item.ID == "" || todo.Has(item.ID) {
			old := item.ID
			item.ID = fmt.Sprintf("%s_r%d", parentID, i+1)
			if old != "" {
				renames[old] = item.ID
			}
		}
	}
	if len(renames) == 0 {
		return
	}
	for _, item := range items {
		for i, dep := range item.DependsOn {
			if renamed, ok := renames[dep]; ok {
				item.DependsOn[i] = renamed
			}
		}
	}
}

// rewireDependents repoints dependencies on a replanned item to its
// replacements, so dependents wait for the new items instead of blocking
// forever on an id that will never complete.
func rewireDependents(todo *models.Todo, replacedID string, replacements []*models.Item) {
	ids := make([]string, 0, len(replacements))
	for _, repl := range replacements {
		ids = append(ids, repl.ID)
	}
	for _, item := range todo.Items {
		if item.Status.IsTerminal() {
			continue
		}
		for i, dep := range item.DependsOn {
			if dep != replacedID {
				continue
			}
			deps := slices.Clone(item.DependsOn[:i])
			deps = append(deps, ids...)
			deps = append(deps, item.DependsOn[i+1:]...)
			item.DependsOn = deps
			break
		}
	}
}
