package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/models"
)

// ctxFailure reports whether err is the context giving out rather than a
// collaborator misbehaving. Such errors go back to the machine instead
// of being folded into the item's failure.
func ctxFailure(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// handleStart validates the request and opens the run.
func (e *Engine) handleStart(_ context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	if strings.TrimSpace(task.Message) == "" {
		return HandlerResult{}, &MissingContext{State: models.StateWorkflowStart, Field: "message"}
	}
	mc.Publish(events.Status(task.Session.ID, models.StateWorkflowStart.String(), "processing request"))
	return HandlerResult{Next: models.StateModeSelection}, nil
}

// handleModeSelection routes the request: an explicit mode on the
// request wins, otherwise the planner classifies the message.
func (e *Engine) handleModeSelection(ctx context.Context, _ MachineControl, task *Task) (HandlerResult, error) {
	mode := task.Request.Mode
	if !mode.IsValid() {
		classified, err := e.deps.Planner.SelectMode(ctx, task.Message)
		if err != nil {
			return HandlerResult{}, err
		}
		mode = classified
	}
	task.Session.Mode = mode

	switch mode {
	case models.ModeChat:
		return HandlerResult{Next: models.StateChat}, nil
	case models.ModeDev:
		return HandlerResult{Next: models.StateDev}, nil
	default:
		return HandlerResult{Next: models.StateTask}, nil
	}
}

// handleChat answers conversationally, no tools involved.
func (e *Engine) handleChat(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	answer, err := e.deps.Planner.Chat(ctx, task.Message)
	if err != nil {
		return HandlerResult{}, err
	}
	mc.Publish(events.AgentMessage(task.Session.ID, answer))
	return HandlerResult{Next: models.StateWorkflowEnd}, nil
}

// handleDev gates privileged task execution behind the configured
// password. The first DEV request parks the session and ends the turn;
// the continuation carrying the password releases the parked request
// into TASK. An unlocked session skips the prompt on later requests.
func (e *Engine) handleDev(_ context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	sess := task.Session

	if e.devPassword == "" {
		mc.Publish(events.AgentMessage(sess.ID, "Privileged mode is not enabled on this instance."))
		return HandlerResult{Next: models.StateWorkflowEnd}, nil
	}

	if sess.AwaitingPassword {
		if strings.TrimSpace(task.Request.Message) == e.devPassword {
			sess.AwaitingPassword = false
			sess.DevUnlocked = true
			pending := sess.PendingMessage
			sess.PendingMessage = ""
			e.logger.Info("Privileged mode unlocked", "session_id", sess.ID)
			if pending != "" {
				task.Message = pending
				mc.Publish(events.Status(sess.ID, models.StateDev.String(), "password accepted, resuming task"))
				return HandlerResult{Next: models.StateTask}, nil
			}
			mc.Publish(events.AgentMessage(sess.ID, "Privileged mode unlocked."))
			return HandlerResult{Next: models.StateWorkflowEnd}, nil
		}
		mc.Publish(events.AgentMessage(sess.ID, "That password was not accepted. Reply with the privileged-mode password to continue, or start a new request."))
		return HandlerResult{EndTurn: true}, nil
	}

	if sess.DevUnlocked {
		return HandlerResult{Next: models.StateTask}, nil
	}

	sess.AwaitingPassword = true
	sess.PendingMessage = task.Message
	mc.Publish(events.AgentMessage(sess.ID, "Privileged mode requires a password. Reply with it to continue."))
	return HandlerResult{EndTurn: true}, nil
}

// handleTask seeds a fresh task run: the message to work and a clean
// inner-cycle slate.
func (e *Engine) handleTask(_ context.Context, _ MachineControl, task *Task) (HandlerResult, error) {
	if strings.TrimSpace(task.Message) == "" {
		return HandlerResult{}, &MissingContext{State: models.StateTask, Field: "message"}
	}
	task.CurrentItemID = ""
	task.failure = ""
	task.Summary = ""
	return HandlerResult{Next: models.StateContextEnrichment}, nil
}

// handleContextEnrichment snapshots the environment for planning: ready
// servers, their tool catalog, and recent execution history. No LLM call
// happens here, and a missing catalog degrades to planning without one.
func (e *Engine) handleContextEnrichment(ctx context.Context, _ MachineControl, task *Task) (HandlerResult, error) {
	sess := task.Session
	task.ReadyServers = e.deps.Servers.ReadyServers()
	task.CatalogSummary = ""

	if len(task.ReadyServers) > 0 {
		runner := e.deps.Runners(sess.ID, task.ReadyServers)
		tools, err := runner.ListTools(ctx)
		switch {
		case err != nil && ctxFailure(err):
			return HandlerResult{}, err
		case err != nil:
			e.logger.Warn("Tool catalog unavailable during enrichment",
				"session_id", sess.ID,
				"error", err)
		default:
			task.CatalogSummary = llm.FormatToolCatalog(tools)
		}
	}

	task.HistorySummary = e.deps.History.FormatForPrompt(historyPromptLimit)
	return HandlerResult{Next: models.StateTodoPlanning}, nil
}

// handleTodoPlanning turns the message into the session's todo.
func (e *Engine) handleTodoPlanning(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	sess := task.Session
	plan, err := e.deps.Planner.PlanTodo(ctx, llm.TodoRequest{
		Message: task.Message,
		Context: task.Enrichment(),
	})
	if err != nil {
		return HandlerResult{}, err
	}
	for _, warning := range plan.Warnings {
		e.logger.Warn("Todo planning warning", "session_id", sess.ID, "warning", warning)
	}

	sess.Todo = plan.Todo
	sess.LastAnalysis = plan.Analysis
	mc.Publish(events.Status(sess.ID, models.StateTodoPlanning.String(),
		fmt.Sprintf("planned %d items", len(plan.Todo.Items))))
	return HandlerResult{Next: models.StateItemLoop}, nil
}

// handleFinalSummary digests the run. A summarizer outage degrades to a
// counted outcome line rather than failing a finished run.
func (e *Engine) handleFinalSummary(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	sess := task.Session
	if sess.Todo == nil {
		return HandlerResult{}, &MissingContext{State: models.StateFinalSummary, Field: "todo"}
	}

	summary, err := e.deps.Summarizer.Summarize(ctx, llm.SummaryRequest{
		Message:  task.Message,
		Todo:     sess.Todo,
		Analysis: sess.LastAnalysis,
	})
	if err != nil {
		if ctxFailure(err) {
			return HandlerResult{}, err
		}
		e.logger.Warn("Summarizer unavailable, using the outcome digest",
			"session_id", sess.ID,
			"error", err)
		summary = fallbackSummary(sess.Todo)
	}

	task.Summary = summary
	mc.Publish(events.Summary(sess.ID, summary, sess.Todo.Counts()))
	return HandlerResult{Next: models.StateWorkflowEnd}, nil
}

// fallbackSummary renders outcome counts when the summarizer is down.
func fallbackSummary(todo *models.Todo) string {
	counts := todo.Counts()
	return fmt.Sprintf("Run finished: %d of %d items completed, %d failed, %d skipped.",
		counts[models.ItemCompleted],
		len(todo.Items),
		counts[models.ItemFailed],
		counts[models.ItemSkipped])
}
